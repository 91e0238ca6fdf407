package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantumflow/supportflow/internal/agent"
	"github.com/quantumflow/supportflow/internal/casegraph"
	"github.com/quantumflow/supportflow/internal/config"
	"github.com/quantumflow/supportflow/internal/inference"
	"github.com/quantumflow/supportflow/internal/integration"
	"github.com/quantumflow/supportflow/internal/knowledge"
	"github.com/quantumflow/supportflow/internal/scheduling"
)

// app holds the components one command invocation needs. Fields are
// filled lazily by the open* methods and released by close.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	assistant *inference.Assistant
	store     knowledge.Store
	usage     *knowledge.UsageTracker
	limiter   *integration.TokenBucketRateLimiter
	audit     *integration.SQLiteAuditLogger
	events    *integration.EventPublisher
	graph     *casegraph.Store
	cache     *agent.ClassificationCache

	closers []func() error
}

func newApp(cfg config.Config, logger *slog.Logger) *app {
	limiter := integration.NewTokenBucketRateLimiter()
	limiter.RegisterService("slack", cfg.Slack.RequestsPerHour)
	limiter.RegisterService("calendar", 600)
	return &app{cfg: cfg, logger: logger, limiter: limiter}
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openAssistant picks the completion backend. Ollama goes through the
// native client unless langchaingo is requested; hosted providers always
// use langchaingo. Providers that cannot embed fall back to Ollama
// embeddings.
func (a *app) openAssistant() (*inference.Assistant, error) {
	if a.assistant != nil {
		return a.assistant, nil
	}
	llm := a.cfg.LLM
	native := inference.NewClient(&inference.Config{
		OllamaURL:      llm.OllamaURL,
		Model:          llm.Model,
		EmbeddingModel: llm.EmbeddingModel,
		ContextSize:    llm.ContextSize,
		Temperature:    llm.Temperature,
		Timeout:        llm.Timeout,
		HealthTTL:      5 * time.Second,
	})

	var completer inference.Completer = native
	var embedder inference.Embedder = native
	if llm.Provider != "ollama" || llm.UseLangchain {
		lc, err := inference.NewLangchainCompleter(llm)
		if err != nil {
			return nil, fmt.Errorf("init llm: %w", err)
		}
		completer = lc
		if lc.CanEmbed() {
			embedder = lc
		}
	}

	a.assistant = inference.NewAssistant(completer, embedder, a.logger)
	return a.assistant, nil
}

func (a *app) openStore(ctx context.Context) (knowledge.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	var embedder knowledge.Embedder
	if a.cfg.Knowledge.Embedder == "hash" {
		embedder = knowledge.NewSimpleEmbedding(a.cfg.Knowledge.Dimensions)
	} else {
		assistant, err := a.openAssistant()
		if err != nil {
			return nil, err
		}
		embedder = assistant
	}

	store, err := knowledge.Open(ctx, a.cfg.Knowledge, embedder, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	a.store = store
	a.onClose(store.Close)
	return store, nil
}

func (a *app) openAudit() (*integration.SQLiteAuditLogger, error) {
	if a.audit != nil || !a.cfg.Audit.Enabled {
		return a.audit, nil
	}
	audit, err := integration.NewSQLiteAuditLogger(a.cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	a.audit = audit
	a.onClose(audit.Close)
	return audit, nil
}

func (a *app) openEvents() *integration.EventPublisher {
	if a.events != nil || len(a.cfg.Kafka.Brokers) == 0 {
		return a.events
	}
	a.events = integration.NewEventPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.EventsTopic, a.logger)
	a.onClose(a.events.Close)
	return a.events
}

func (a *app) openGraph(ctx context.Context) (*casegraph.Store, error) {
	if a.graph != nil || a.cfg.Dgraph.Addr == "" {
		return a.graph, nil
	}
	graph, err := casegraph.NewStore(ctx, a.cfg.Dgraph.Addr, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open case graph: %w", err)
	}
	a.graph = graph
	a.onClose(graph.Close)
	return graph, nil
}

func (a *app) slackConnector() (*integration.SlackConnector, error) {
	audit, err := a.openAudit()
	if err != nil {
		return nil, err
	}
	var auditor integration.AuditLogger
	if audit != nil {
		auditor = audit
	}
	return integration.NewSlackConnector(a.cfg.Slack, a.limiter, auditor, a.logger), nil
}

// openWorkflow assembles the full pipeline. With postToSlack false the
// pipeline runs without delivering anything to Slack.
func (a *app) openWorkflow(ctx context.Context, postToSlack bool) (*agent.Workflow, error) {
	assistant, err := a.openAssistant()
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	usageCfg := knowledge.DefaultUsageConfig()
	usageCfg.Workers = a.cfg.Knowledge.UsageWorkers
	usageCfg.QueueSize = a.cfg.Knowledge.UsageQueueSize
	events := a.openEvents()
	if events != nil {
		usageCfg.Observer = events.PublishUsage
	}
	a.usage = knowledge.NewUsageTracker(store, usageCfg, a.logger)
	a.onClose(func() error { return a.usage.Shutdown(10 * time.Second) })

	wf := a.cfg.Workflow
	policy := agent.NewEscalationPolicy(wf.ConfidenceThreshold, wf.SensitiveKeywords)
	a.cache = agent.NewClassificationCache(wf.ClassificationCacheTTL)
	a.onClose(func() error { a.cache.Close(); return nil })

	intake := agent.NewIntakeAgent(assistant, policy, wf.IntakeEscalationThreshold, a.cache, a.logger)
	knowledgeAgent := agent.NewKnowledgeAgent(store, assistant, a.usage, policy, &agent.KnowledgeConfig{
		TopK:             a.cfg.Knowledge.TopK,
		MinScore:         a.cfg.Knowledge.MinScore,
		FilterByCategory: a.cfg.Knowledge.FilterByCategory,
	}, a.logger)

	var notifier agent.Notifier = agent.NoopNotifier{}
	if postToSlack {
		slack, err := a.slackConnector()
		if err != nil {
			return nil, err
		}
		notifier = slack
	}

	workflow := agent.NewWorkflow(wf, intake, knowledgeAgent, notifier, a.logger)

	audit, err := a.openAudit()
	if err != nil {
		return nil, err
	}
	if audit != nil {
		workflow.RegisterSink(audit)
	}
	if events != nil {
		workflow.RegisterSink(events)
	}
	graph, err := a.openGraph(ctx)
	if err != nil {
		return nil, err
	}
	if graph != nil {
		workflow.RegisterSink(graph)
	}

	// Registered last so it runs first: sinks must drain before their
	// backends close.
	a.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*wf.NotifyTimeout)
		defer cancel()
		return workflow.Wait(ctx)
	})
	return workflow, nil
}

func (a *app) openScheduler(ctx context.Context) (*scheduling.Scheduler, error) {
	assistant, err := a.openAssistant()
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(a.cfg.Calendar.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", a.cfg.Calendar.TimeZone, err)
	}
	audit, err := a.openAudit()
	if err != nil {
		return nil, err
	}
	var auditor integration.AuditLogger
	if audit != nil {
		auditor = audit
	}

	calendar, err := integration.NewCalendarConnector(ctx, a.cfg.Calendar, a.limiter, auditor, a.logger)
	if err != nil {
		return nil, err
	}
	parser := scheduling.NewTimeParser(loc, assistant, a.logger)
	return scheduling.NewScheduler(parser, calendar, a.cfg.Calendar.DemoDuration, a.logger), nil
}
