// Package config loads and validates the agent runtime configuration.
//
// Configuration is an explicit value passed to the components that need it;
// there is no package-level singleton. Load reads a YAML file, applies
// defaults, and validates every section before returning, so a config that
// loads is a config that runs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"agentd/pkg/trigger"
)

// Supported provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
)

// Duration wraps time.Duration so YAML values like "30s" or "5m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults applied to zero-valued fields.
const (
	DefaultMaxWindowTokens = 100000
	DefaultTickInterval    = 30 * time.Second
	DefaultFailureCeiling  = 3
	DefaultRatePerMinute   = 10
	DefaultCooldown        = 5 * time.Second
	DefaultActionTimeout   = 2 * time.Minute
)

// Config is the full runtime configuration for one agent instance.
type Config struct {
	AgentID   string           `yaml:"agent_id"`
	Model     ModelConfig      `yaml:"model"`
	Window    WindowConfig     `yaml:"window"`
	Loop      LoopConfig       `yaml:"loop"`
	Safety    SafetyConfig     `yaml:"safety"`
	Storage   StorageConfig    `yaml:"storage"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Debug     DebugConfig      `yaml:"debug"`
	Triggers  []TriggerConfig  `yaml:"triggers"`
	Templates []TemplateConfig `yaml:"templates"`
}

// ModelConfig selects the LLM backend.
type ModelConfig struct {
	Provider string `yaml:"provider"`
	// Name is the model identifier; empty selects the provider's default.
	Name string `yaml:"name"`
	// Host is the server URL for the ollama provider.
	Host string `yaml:"host"`
	// APIKeyEnv names the environment variable or secret holding the key.
	APIKeyEnv   string  `yaml:"api_key_env"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// WindowConfig bounds the context window.
type WindowConfig struct {
	MaxTokens int `yaml:"max_tokens"`
	// Tokenizer selects the estimator: "tiktoken" or "heuristic".
	Tokenizer string `yaml:"tokenizer"`
}

// LoopConfig controls tick scheduling.
type LoopConfig struct {
	Interval Duration `yaml:"interval"`
	// MaxToolIterations bounds one prompt's completion rounds.
	MaxToolIterations int `yaml:"max_tool_iterations"`
}

// SafetyConfig controls the executor's built-in limits.
type SafetyConfig struct {
	MaxActionsPerMinute int      `yaml:"max_actions_per_minute"`
	Cooldown            Duration `yaml:"cooldown"`
	ActionTimeout       Duration `yaml:"action_timeout"`
	FailureCeiling      int      `yaml:"failure_ceiling"`
}

// StorageConfig locates the on-disk stores.
type StorageConfig struct {
	// DatabasePath is the SQLite file for action history. Empty disables
	// persistence.
	DatabasePath string `yaml:"database_path"`
	// EventLogDir is the directory for daily JSONL action logs. Empty
	// disables the event log.
	EventLogDir string `yaml:"event_log_dir"`
}

// MetricsConfig controls the Prometheus surface.
type MetricsConfig struct {
	// ListenAddr serves /metrics when non-empty, e.g. ":9090".
	ListenAddr string `yaml:"listen_addr"`
	// QueryURL points at a Prometheus server for the history summaries.
	QueryURL string `yaml:"query_url"`
}

// DebugConfig mirrors the logging debug toggles.
type DebugConfig struct {
	Enabled bool     `yaml:"enabled"`
	Domains []string `yaml:"domains"`
}

// TriggerConfig declares one trigger.
type TriggerConfig struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Template string   `yaml:"template"`
	Interval Duration `yaml:"interval"`
	// Condition and Value configure threshold triggers.
	Condition string  `yaml:"condition"`
	Value     float64 `yaml:"value"`
	// Context supplies static template context keys.
	Context map[string]string `yaml:"context"`
}

// TemplateConfig declares a custom prompt template registered alongside the
// built-ins.
type TemplateConfig struct {
	Name            string   `yaml:"name"`
	Body            string   `yaml:"body"`
	RequiredContext []string `yaml:"required_context"`
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a runnable configuration with no triggers.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.AgentID == "" {
		c.AgentID = "agent"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = ProviderAnthropic
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = 4096
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = 0.7
	}
	if c.Window.MaxTokens <= 0 {
		c.Window.MaxTokens = DefaultMaxWindowTokens
	}
	if c.Window.Tokenizer == "" {
		c.Window.Tokenizer = "tiktoken"
	}
	if c.Loop.Interval <= 0 {
		c.Loop.Interval = Duration(DefaultTickInterval)
	}
	if c.Loop.MaxToolIterations <= 0 {
		c.Loop.MaxToolIterations = 10
	}
	if c.Safety.MaxActionsPerMinute <= 0 {
		c.Safety.MaxActionsPerMinute = DefaultRatePerMinute
	}
	if c.Safety.Cooldown <= 0 {
		c.Safety.Cooldown = Duration(DefaultCooldown)
	}
	if c.Safety.ActionTimeout <= 0 {
		c.Safety.ActionTimeout = Duration(DefaultActionTimeout)
	}
	if c.Safety.FailureCeiling <= 0 {
		c.Safety.FailureCeiling = DefaultFailureCeiling
	}
}

// Validate rejects configurations that could not run. Trigger and template
// references are checked here, at load time, rather than surfacing as
// skipped triggers at runtime.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGemini, ProviderMock:
	default:
		return fmt.Errorf("unknown provider %q", c.Model.Provider)
	}

	switch c.Window.Tokenizer {
	case "tiktoken", "heuristic":
	default:
		return fmt.Errorf("unknown tokenizer %q", c.Window.Tokenizer)
	}

	templateNames := map[string]bool{
		"health_check":    true,
		"memory_optimize": true,
		"system_prompt":   true,
	}
	for i := range c.Templates {
		t := &c.Templates[i]
		if t.Name == "" {
			return fmt.Errorf("template %d: name is required", i)
		}
		if t.Body == "" {
			return fmt.Errorf("template %q: body is required", t.Name)
		}
		if templateNames[t.Name] {
			return fmt.Errorf("template %q: duplicate or built-in name", t.Name)
		}
		templateNames[t.Name] = true
	}

	seen := map[string]bool{}
	for i := range c.Triggers {
		t := &c.Triggers[i]
		if t.Name == "" {
			return fmt.Errorf("trigger %d: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("trigger %q: duplicate name", t.Name)
		}
		seen[t.Name] = true

		if !templateNames[t.Template] {
			return fmt.Errorf("trigger %q: unknown template %q", t.Name, t.Template)
		}

		switch t.Kind {
		case "periodic":
			if t.Interval <= 0 {
				return fmt.Errorf("trigger %q: periodic trigger needs a positive interval", t.Name)
			}
		case "threshold":
			if _, err := trigger.NamedCondition(t.Condition, t.Value); err != nil {
				return fmt.Errorf("trigger %q: %w", t.Name, err)
			}
		default:
			return fmt.Errorf("trigger %q: unknown kind %q", t.Name, t.Kind)
		}
	}

	return nil
}

// BuildTrigger constructs the runtime trigger for one declaration. A static
// context map becomes the trigger's context provider.
func (tc *TriggerConfig) BuildTrigger() (*trigger.Trigger, error) {
	var provider trigger.ContextProvider
	if len(tc.Context) > 0 {
		static := make(map[string]any, len(tc.Context))
		for k, v := range tc.Context {
			static[k] = v
		}
		provider = func() map[string]any { return static }
	}

	switch tc.Kind {
	case "periodic":
		return trigger.NewPeriodic(tc.Name, tc.Template, tc.Interval.Std(), provider), nil
	case "threshold":
		cond, err := trigger.NamedCondition(tc.Condition, tc.Value)
		if err != nil {
			return nil, err
		}
		return trigger.NewThreshold(tc.Name, tc.Template, cond, provider), nil
	default:
		return nil, fmt.Errorf("unknown trigger kind %q", tc.Kind)
	}
}
