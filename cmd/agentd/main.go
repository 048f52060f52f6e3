// agentd runs one autonomous agent instance: a bounded context window, a
// trigger-driven action loop, and the safety machinery around it.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"agentd/pkg/config"
	"agentd/pkg/contextwin"
	"agentd/pkg/eventlog"
	"agentd/pkg/executor"
	"agentd/pkg/llm"
	"agentd/pkg/llm/anthropic"
	"agentd/pkg/llm/gemini"
	"agentd/pkg/llm/ollama"
	"agentd/pkg/llm/openai"
	"agentd/pkg/logx"
	"agentd/pkg/loop"
	"agentd/pkg/metrics"
	"agentd/pkg/persistence"
	"agentd/pkg/pipeline"
	"agentd/pkg/templates"
	"agentd/pkg/tokens"
	"agentd/pkg/tools"
	"agentd/pkg/tracker"
	"agentd/pkg/trigger"
)

func main() {
	var (
		configPath string
		stepMode   bool
		snapshot   bool
		summary    bool
		historyN   int
	)
	flag.StringVar(&configPath, "config", "", "Path to config file (YAML)")
	flag.BoolVar(&stepMode, "step", false, "Pause for confirmation after each tick")
	flag.BoolVar(&snapshot, "snapshot", false, "Print a window and tracker snapshot on exit")
	flag.BoolVar(&summary, "summary", false, "Print an action summary from Prometheus and exit")
	flag.IntVar(&historyN, "history", 0, "Print the last N persisted action records and exit")
	flag.Parse()

	if err := run(configPath, stepMode, snapshot, summary, historyN); err != nil {
		fmt.Fprintf(os.Stderr, "agentd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, stepMode, snapshot, summary bool, historyN int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logx.SetDebugConfig(cfg.Debug.Enabled, cfg.Debug.Domains)
	logger := logx.NewLogger(cfg.AgentID)

	if historyN > 0 {
		return printHistory(cfg, historyN)
	}
	if summary {
		return printSummary(cfg)
	}

	secrets := config.NewSecrets()
	client, err := buildClient(cfg, secrets)
	if err != nil {
		return err
	}

	estimator := buildEstimator(cfg)
	window := contextwin.NewManager(cfg.Window.MaxTokens, estimator,
		contextwin.WithLogger(logger))

	tmplReg, err := templates.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	for i := range cfg.Templates {
		t := &cfg.Templates[i]
		if err := tmplReg.Register(t.Name, t.Body, t.RequiredContext); err != nil {
			return fmt.Errorf("failed to register template %q: %w", t.Name, err)
		}
	}

	// Seed the window with the system prompt so it forms the never-evicted
	// head and the first stable cache prefix.
	systemPrompt, err := tmplReg.Render(templates.SystemPromptTemplate, map[string]any{"agent_id": cfg.AgentID})
	if err != nil {
		return fmt.Errorf("failed to render system prompt: %w", err)
	}
	window.Append(contextwin.NewSystemMessage(systemPrompt))

	toolReg := tools.NewRegistry()
	notebook := tools.NewNoteBook()
	for _, tool := range []tools.Tool{
		tools.CurrentTimeTool{},
		tools.ContextStatsTool{Source: func() any { return window.GetStats() }},
		tools.RecordNoteTool{Book: notebook},
	} {
		if err := toolReg.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool: %w", err)
		}
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.ListenAddr != "" {
		recorder = metrics.NewRecorder(prometheus.DefaultRegisterer)
	}

	trk := tracker.New(cfg.Safety.FailureCeiling, tracker.WithLogger(logger))
	pipelineOpts := []pipeline.Option{
		pipeline.WithMaxIterations(cfg.Loop.MaxToolIterations),
		pipeline.WithMaxTokens(cfg.Model.MaxTokens),
		pipeline.WithTemperature(cfg.Model.Temperature),
		pipeline.WithLogger(logger),
	}
	if recorder != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithEvictionHook(recorder.ObserveEviction))
	}
	runner := pipeline.New(client, window, toolReg, pipelineOpts...)

	exec := executor.New(runner, trk, tmplReg,
		executor.WithRateLimit(cfg.Safety.MaxActionsPerMinute, time.Minute),
		executor.WithCooldown(cfg.Safety.Cooldown.Std()),
		executor.WithTimeout(cfg.Safety.ActionTimeout.Std()),
		executor.WithLogger(logger))

	evaluator := trigger.NewEvaluator(trk, logger)
	for i := range cfg.Triggers {
		trg, err := cfg.Triggers[i].BuildTrigger()
		if err != nil {
			return fmt.Errorf("failed to build trigger %q: %w", cfg.Triggers[i].Name, err)
		}
		if err := evaluator.Add(trg); err != nil {
			return fmt.Errorf("failed to add trigger: %w", err)
		}
	}

	loopOpts := []loop.Option{
		loop.WithInterval(cfg.Loop.Interval.Std()),
		loop.WithLogger(logger),
	}

	var store *persistence.Store
	if cfg.Storage.DatabasePath != "" {
		store, err = persistence.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = store.Close() }()
		loopOpts = append(loopOpts, loop.WithRecordHook(func(rec tracker.ActionRecord) {
			if err := store.SaveActionRecord(rec); err != nil {
				logger.Error("failed to persist action record: %v", err)
			}
			persistTemplateUsage(store, tmplReg, logger)
		}))
	}

	if cfg.Storage.EventLogDir != "" {
		events, err := eventlog.NewWriter(cfg.Storage.EventLogDir)
		if err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
		defer func() { _ = events.Close() }()
		loopOpts = append(loopOpts, loop.WithRecordHook(func(rec tracker.ActionRecord) {
			if err := events.WriteRecord(rec); err != nil {
				logger.Error("failed to write event log: %v", err)
			}
		}))
	}

	if recorder != nil {
		loopOpts = append(loopOpts, loop.WithRecordHook(func(rec tracker.ActionRecord) {
			recorder.ObserveAction(rec)
			recorder.ObserveWindow(window.GetStats())
		}))
		go serveMetrics(cfg.Metrics.ListenAddr, logger)
	}

	if stepMode {
		loopOpts = append(loopOpts, loop.WithStepGate(stdinStepGate(trk, window)))
	}

	runLoop := loop.New(evaluator, tmplReg, exec, trk, loopOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runLoop.Start(ctx)
	logger.Info("agent %s running with %d trigger(s), provider %s",
		cfg.AgentID, len(cfg.Triggers), cfg.Model.Provider)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		runLoop.Wait()
		close(done)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received signal %v, stopping loop", sig)
		runLoop.Stop()
		runLoop.Wait()
	case <-done:
	}

	if snapshot {
		printSnapshot(window, trk)
	}
	logger.Info("agent %s stopped", cfg.AgentID)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildEstimator(cfg *config.Config) tokens.Estimator {
	if cfg.Window.Tokenizer == "heuristic" {
		return tokens.Heuristic{}
	}
	return tokens.Default(cfg.Model.Name)
}

// buildClient selects the provider backend. API keys resolve through the
// secrets store, which falls back to the environment.
func buildClient(cfg *config.Config, secrets *config.Secrets) (llm.Client, error) {
	keyFor := func(defaultEnv string) (string, error) {
		env := cfg.Model.APIKeyEnv
		if env == "" {
			env = defaultEnv
		}
		return secrets.Get(env)
	}

	switch cfg.Model.Provider {
	case config.ProviderAnthropic:
		key, err := keyFor("ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		return anthropic.NewClient(key, cfg.Model.Name), nil
	case config.ProviderOpenAI:
		key, err := keyFor("OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return openai.NewClient(key, cfg.Model.Name), nil
	case config.ProviderGemini:
		key, err := keyFor("GEMINI_API_KEY")
		if err != nil {
			return nil, err
		}
		return gemini.NewClient(key, cfg.Model.Name), nil
	case config.ProviderOllama:
		return ollama.NewClient(cfg.Model.Host, cfg.Model.Name), nil
	case config.ProviderMock:
		return llm.NewMockClient([]llm.CompletionResponse{{Content: "ok"}}, nil), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Model.Provider)
	}
}

func printHistory(cfg *config.Config, limit int) error {
	if cfg.Storage.DatabasePath == "" {
		return fmt.Errorf("no database configured (storage.database_path)")
	}
	store, err := persistence.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.ActionHistory(limit)
	if err != nil {
		return err
	}
	for _, rec := range records {
		reason := ""
		if rec.Reason != "" {
			reason = " (" + rec.Reason + ")"
		}
		fmt.Printf("%s  %-24s %-9s%s\n",
			rec.Timestamp.Format(time.RFC3339), rec.TriggerName, rec.Result, reason)
	}
	return nil
}

func printSummary(cfg *config.Config) error {
	if cfg.Metrics.QueryURL == "" {
		return fmt.Errorf("no Prometheus configured (metrics.query_url)")
	}
	qs, err := metrics.NewQueryService(cfg.Metrics.QueryURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sum, err := qs.GetActionSummary(ctx, "")
	if err != nil {
		return err
	}
	evicted, err := qs.GetEvictedTokens(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("actions: %d recorded, %d rejected, %d failed (success rate %.2f)\n",
		sum.Recorded, sum.Rejected, sum.Failed, sum.SuccessRate)
	fmt.Printf("evicted tokens: %d\n", evicted)
	return nil
}

func printSnapshot(window *contextwin.Manager, trk *tracker.Tracker) {
	dump := struct {
		Window   contextwin.Stats     `json:"window"`
		Messages []contextwin.Message `json:"messages"`
		Tracker  tracker.Metrics      `json:"tracker"`
	}{
		Window:   window.GetStats(),
		Messages: window.Window(),
		Tracker:  trk.Snapshot(),
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshot failed: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func persistTemplateUsage(store *persistence.Store, reg *templates.Registry, logger *logx.Logger) {
	for _, name := range reg.Names() {
		stats, ok := reg.Stats(name)
		if !ok || stats.TimesUsed == 0 {
			continue
		}
		if err := store.SaveTemplateUsage(name, stats); err != nil {
			logger.Error("failed to persist template usage: %v", err)
		}
	}
}

// stdinStepGate pauses after each tick until the operator confirms.
// Entering "q" stops the loop; "s" prints a snapshot first.
func stdinStepGate(trk *tracker.Tracker, window *contextwin.Manager) loop.StepGate {
	if !term.IsTerminal(int(syscall.Stdin)) {
		// Step mode on a non-interactive stdin would block forever.
		return func() bool { return true }
	}
	reader := bufio.NewReader(os.Stdin)
	return func() bool {
		for {
			fmt.Print("tick complete [enter=continue, s=snapshot, q=quit]: ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return false
			}
			switch strings.TrimSpace(line) {
			case "":
				return true
			case "s":
				printSnapshot(window, trk)
			case "q":
				return false
			}
		}
	}
}

func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed: %v", err)
	}
}
