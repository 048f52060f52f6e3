// Package templates provides prompt template registration and rendering for
// autonomous actions.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"
)

//go:embed *.tpl.md
var templateFS embed.FS

// Built-in template names.
const (
	HealthCheckTemplate    = "health_check"
	MemoryOptimizeTemplate = "memory_optimize"
	SystemPromptTemplate   = "system_prompt"
)

// UsageStats tracks how a template has been used. TimesUsed is incremented on
// successful render; SuccessCount and TotalLatency are recorded by the caller
// once execution of the rendered prompt completes.
type UsageStats struct {
	TimesUsed    int
	SuccessCount int
	TotalLatency time.Duration
}

// MissingContextError reports every required context key absent from a render
// call, not just the first.
type MissingContextError struct {
	Template string
	Keys     []string
}

func (e *MissingContextError) Error() string {
	return fmt.Sprintf("template %s: missing context keys: %s", e.Template, strings.Join(e.Keys, ", "))
}

// promptTemplate pairs a parsed body with its declared required context.
type promptTemplate struct {
	body     *template.Template
	required []string
	stats    UsageStats
}

// Registry maps template names to prompt templates and tracks usage stats.
type Registry struct {
	mu        sync.Mutex
	templates map[string]*promptTemplate
}

// builtins declares the embedded templates and their required context keys.
//
//nolint:gochecknoglobals // static template manifest
var builtins = map[string][]string{
	HealthCheckTemplate:    {"context"},
	MemoryOptimizeTemplate: {"target", "scope"},
	SystemPromptTemplate:   {"agent_id"},
}

// NewRegistry creates a registry preloaded with the embedded templates.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[string]*promptTemplate)}

	for name, required := range builtins {
		content, err := templateFS.ReadFile(name + ".tpl.md")
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		if err := r.Register(name, string(content), required); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register parses and adds a template under the given name. Registering an
// existing name replaces the previous template and resets its stats.
func (r *Registry) Register(name, body string, requiredContext []string) error {
	tmpl, err := template.New(name).Funcs(template.FuncMap{
		"contains": strings.Contains,
	}).Option("missingkey=zero").Parse(body)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	required := make([]string, len(requiredContext))
	copy(required, requiredContext)
	sort.Strings(required)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = &promptTemplate{body: tmpl, required: required}
	return nil
}

// Render renders the named template with the given context. If any required
// key is absent the render fails with a MissingContextError naming all absent
// keys, and the template's usage count is not incremented.
func (r *Registry) Render(name string, context map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pt, exists := r.templates[name]
	if !exists {
		return "", fmt.Errorf("template %s not found", name)
	}

	var missing []string
	for _, key := range pt.required {
		if _, ok := context[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", &MissingContextError{Template: name, Keys: missing}
	}

	var buf bytes.Buffer
	if err := pt.body.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}

	pt.stats.TimesUsed++
	return buf.String(), nil
}

// RecordOutcome completes the two-phase stats update for a rendered prompt,
// attributing execution success and latency back to the template.
func (r *Registry) RecordOutcome(name string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pt, exists := r.templates[name]
	if !exists {
		return
	}
	if success {
		pt.stats.SuccessCount++
	}
	pt.stats.TotalLatency += latency
}

// Stats returns a copy of the named template's usage stats.
func (r *Registry) Stats(name string) (UsageStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pt, exists := r.templates[name]
	if !exists {
		return UsageStats{}, false
	}
	return pt.stats, true
}

// RequiredContext returns the declared required keys for the named template.
func (r *Registry) RequiredContext(name string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pt, exists := r.templates[name]
	if !exists {
		return nil, false
	}
	out := make([]string, len(pt.required))
	copy(out, pt.required)
	return out, true
}

// Names returns all registered template names sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
