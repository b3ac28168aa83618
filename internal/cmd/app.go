package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-action-pipeline/internal/api"
	"github.com/xela07ax/spaceai-action-pipeline/internal/audit"
	"github.com/xela07ax/spaceai-action-pipeline/internal/connectors"
	"github.com/xela07ax/spaceai-action-pipeline/internal/engine"
	"github.com/xela07ax/spaceai-action-pipeline/internal/infra"
	"github.com/xela07ax/spaceai-action-pipeline/internal/infra/auth"
	"github.com/xela07ax/spaceai-action-pipeline/internal/llm"
	"github.com/xela07ax/spaceai-action-pipeline/internal/memory"
	"github.com/xela07ax/spaceai-action-pipeline/internal/patterns"
	"github.com/xela07ax/spaceai-action-pipeline/internal/perception"
	"github.com/xela07ax/spaceai-action-pipeline/internal/planning"
	"github.com/xela07ax/spaceai-action-pipeline/internal/repository/postgres"
	"github.com/xela07ax/spaceai-action-pipeline/internal/tools"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// app — собранный граф зависимостей. closers выполняются в обратном порядке.
type app struct {
	cfg      *infra.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *engine.Metrics

	orch     *engine.Orchestrator
	actors   *engine.Actors
	pipeline *engine.Pipeline
	learner  *patterns.Learner
	routines *tools.RoutineStore
	history  *postgres.ExecutionLogRepo

	closers []func()
}

func loadConfigAndLogger() (*infra.Config, *zap.Logger, error) {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// newApp собирает пайплайн. withAudit включает зеркалирование журнала в Postgres.
func newApp(ctx context.Context, cfg *infra.Config, logger *zap.Logger, withAudit bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		routines: tools.NewRoutineStore(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = engine.NewMetrics(a.registry)

	store, err := a.patternStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.learner = patterns.NewLearner(ctx, store, logger)

	opts := []engine.Option{
		engine.WithConfirmationTTL(cfg.Engine.ConfirmationTTL),
		engine.WithMetrics(a.metrics),
	}
	if withAudit && cfg.Database.URL != "" {
		sink, err := a.auditSink(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, engine.WithAuditSink(sink))
	}
	a.orch = engine.NewOrchestrator(logger, opts...)

	conn, err := a.connector()
	if err != nil {
		a.Close()
		return nil, err
	}
	mem := memory.NewStore()
	if err := tools.Register(a.orch, tools.Deps{
		Memory:    mem,
		Routines:  a.routines,
		Connector: engine.NewReliabilityWrapper("connectors", conn, cfg.Engine, a.metrics, logger),
	}); err != nil {
		a.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	a.actors = engine.NewActors(cfg.Actors)
	provider := a.llmProvider()

	a.pipeline = engine.NewPipeline(
		perception.NewPerceiver(provider, mem, a.learner, logger, perception.WithMemoryLimit(cfg.Perception.MemoryLimit)),
		planning.NewPlanner(provider, a.orch, a.actors, logger),
		engine.NewActionExecutor(a.orch, a.metrics, logger),
		a.learner,
		a.metrics,
		logger,
	)
	return a, nil
}

func (a *app) patternStore(ctx context.Context) (patterns.Store, error) {
	cfg := a.cfg.Patterns
	switch cfg.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Learner стартует пустым и продолжит попытки записи
			a.logger.Warn("redis unreachable, pattern counters start empty", zap.Error(err))
		}
		return patterns.NewRedisStore(rdb, cfg.Key), nil
	case "memory":
		return patterns.NewMemoryStore(), nil
	case "sqlite", "":
		s, err := patterns.NewSQLiteStore(ctx, cfg.SQLitePath, cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("open pattern store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	default:
		return nil, fmt.Errorf("unknown patterns backend %q", cfg.Backend)
	}
}

func (a *app) auditSink(ctx context.Context) (*audit.Sink, error) {
	repo, err := postgres.NewExecutionLogRepo(ctx, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect audit storage: %w", err)
	}
	a.closers = append(a.closers, repo.Close)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	a.history = repo

	sink := audit.NewSink(repo, audit.Options{
		BufferSize:    a.cfg.Engine.AuditBufferSize,
		FlushInterval: a.cfg.Engine.AuditFlushInterval,
		OnQueueLen:    func(n int) { a.metrics.AuditBufferFill.Set(float64(n)) },
	}, a.logger)
	sink.Start()
	// Sink останавливается раньше пула: closers идут в обратном порядке
	a.closers = append(a.closers, sink.Stop)
	return sink, nil
}

func (a *app) connector() (connectors.ExecutionProvider, error) {
	addr := a.cfg.Engine.ConnectorAddr
	if addr == "" {
		a.logger.Info("no connector service configured, using mock connectors")
		return connectors.NewMockConnector(), nil
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect connector service %s: %w", addr, err)
	}
	a.closers = append(a.closers, func() { _ = conn.Close() })
	return connectors.NewGRPCAdapter(conn, a.cfg.Engine.CallTimeout), nil
}

// llmProvider: без ключа модели нет, стадии сразу идут по фолбэку.
func (a *app) llmProvider() llm.Provider {
	client, err := llm.NewClient(llm.Config{
		BaseURL:     a.cfg.LLM.BaseURL,
		APIKey:      a.cfg.LLM.APIKey,
		Model:       a.cfg.LLM.Model,
		Temperature: a.cfg.LLM.Temperature,
		Timeout:     a.cfg.LLM.Timeout,
	})
	if err != nil {
		a.logger.Info("llm disabled, using heuristic perception and template planning", zap.Error(err))
		return nil
	}
	return llm.NewReliableProvider(client, llm.ReliableOptions{}, a.logger)
}

func (a *app) validator() (auth.TokenValidator, error) {
	if len(a.cfg.Auth.PublicKey) == 0 {
		a.logger.Warn("auth public key not configured, API runs without authorization")
		return nil, nil
	}
	v, err := auth.NewVerifierFromPEM(a.cfg.Auth.PublicKey,
		auth.WithIssuer(a.cfg.Auth.Issuer),
		auth.WithLeeway(a.cfg.Auth.Leeway),
		auth.WithActorCheck(func(id string) bool {
			_, ok := a.actors.Get(id)
			return ok
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("parse auth public key: %w", err)
	}
	return v, nil
}

// apiDeps — общие зависимости HTTP и gRPC поверхностей.
func (a *app) apiDeps(v auth.TokenValidator) api.Deps {
	deps := api.Deps{
		Pipeline:   a.pipeline,
		Dispatcher: a.orch,
		Actors:     a.actors,
		Patterns:   a.learner,
		Routines:   a.routines,
		Validator:  v,
	}
	if a.history != nil {
		deps.History = a.history
	}
	if a.cfg.Server.MetricsAddr == "" {
		deps.Gatherer = a.registry
	}
	return deps
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
