package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "agent_id: worker-1\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "worker-1", cfg.AgentID)
	assert.Equal(t, ProviderAnthropic, cfg.Model.Provider)
	assert.Equal(t, DefaultMaxWindowTokens, cfg.Window.MaxTokens)
	assert.Equal(t, DefaultTickInterval, cfg.Loop.Interval.Std())
	assert.Equal(t, DefaultFailureCeiling, cfg.Safety.FailureCeiling)
	assert.Equal(t, DefaultRatePerMinute, cfg.Safety.MaxActionsPerMinute)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
agent_id: ops
model:
  provider: ollama
  name: llama3.2
  host: http://localhost:11434
window:
  max_tokens: 8000
  tokenizer: heuristic
loop:
  interval: 1m
safety:
  max_actions_per_minute: 5
  cooldown: 10s
  failure_ceiling: 2
templates:
  - name: disk_check
    body: "Check disk usage on {{.host}}"
    required_context: [host]
triggers:
  - name: hourly_health
    kind: periodic
    template: health_check
    interval: 1h
    context:
      context: routine
  - name: failing_badly
    kind: threshold
    template: disk_check
    condition: success_rate_below
    value: 0.5
    context:
      host: localhost
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderOllama, cfg.Model.Provider)
	assert.Equal(t, 8000, cfg.Window.MaxTokens)
	assert.Equal(t, time.Minute, cfg.Loop.Interval.Std())
	assert.Equal(t, 2, cfg.Safety.FailureCeiling)
	require.Len(t, cfg.Triggers, 2)
	require.Len(t, cfg.Templates, 1)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Model.Provider = "watson" },
			wantErr: "unknown provider",
		},
		{
			name:    "unknown tokenizer",
			mutate:  func(c *Config) { c.Window.Tokenizer = "wordcount" },
			wantErr: "unknown tokenizer",
		},
		{
			name: "trigger references unknown template",
			mutate: func(c *Config) {
				c.Triggers = []TriggerConfig{{Name: "t", Kind: "periodic", Template: "nope", Interval: Duration(time.Minute)}}
			},
			wantErr: "unknown template",
		},
		{
			name: "periodic trigger without interval",
			mutate: func(c *Config) {
				c.Triggers = []TriggerConfig{{Name: "t", Kind: "periodic", Template: "health_check"}}
			},
			wantErr: "positive interval",
		},
		{
			name: "threshold trigger with unknown condition",
			mutate: func(c *Config) {
				c.Triggers = []TriggerConfig{{Name: "t", Kind: "threshold", Template: "health_check", Condition: "vibes"}}
			},
			wantErr: "unknown threshold condition",
		},
		{
			name: "duplicate trigger names",
			mutate: func(c *Config) {
				c.Triggers = []TriggerConfig{
					{Name: "t", Kind: "periodic", Template: "health_check", Interval: Duration(time.Minute)},
					{Name: "t", Kind: "periodic", Template: "health_check", Interval: Duration(time.Minute)},
				}
			},
			wantErr: "duplicate name",
		},
		{
			name: "template shadowing builtin",
			mutate: func(c *Config) {
				c.Templates = []TemplateConfig{{Name: "health_check", Body: "x"}}
			},
			wantErr: "built-in",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildTrigger(t *testing.T) {
	tc := TriggerConfig{
		Name:     "hourly",
		Kind:     "periodic",
		Template: "health_check",
		Interval: Duration(time.Hour),
		Context:  map[string]string{"context": "routine"},
	}

	trg, err := tc.BuildTrigger()
	require.NoError(t, err)
	assert.Equal(t, "hourly", trg.Name)
	require.NotNil(t, trg.Context)
	assert.Equal(t, map[string]any{"context": "routine"}, trg.Context())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
