package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/Iron-Ham/issueforge/internal/advisor"
	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/capability/execcap"
	"github.com/Iron-Ham/issueforge/internal/capability/gitcap"
	"github.com/Iron-Ham/issueforge/internal/codingloop"
	"github.com/Iron-Ham/issueforge/internal/config"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/event"
	"github.com/Iron-Ham/issueforge/internal/gates"
	"github.com/Iron-Ham/issueforge/internal/logging"
	"github.com/Iron-Ham/issueforge/internal/memory"
	"github.com/Iron-Ham/issueforge/internal/metrics"
	"github.com/Iron-Ham/issueforge/internal/scheduler"
	"github.com/Iron-Ham/issueforge/internal/telemetry"
)

// newCaller builds the fallback capability caller. Tests replace it.
var newCaller = func(cfg *config.Config, logger *logging.Logger) capability.Caller {
	return execcap.New(execcap.Config{
		Command:   cfg.Capabilities.Command,
		Overrides: cfg.Capabilities.Overrides,
		Env:       cfg.Capabilities.Env,
	}, execcap.WithLogger(logger))
}

// engine is the fully wired execution stack for one build.
type engine struct {
	cfg       *config.Config
	logger    *logging.Logger
	bus       *event.Bus
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
	cp        *dag.Checkpointer

	shutdownTracing telemetry.ShutdownFunc
	stopMetrics     context.CancelFunc
}

type engineOptions struct {
	artifactsDir string
	buildID      string
	metricsAddr  string
	out          io.Writer
}

// newEngine wires logging, telemetry, metrics, capabilities, the coding
// loop, the advisor, and the scheduler for an artifacts directory.
func newEngine(ctx context.Context, cfg *config.Config, opts engineOptions) (*engine, error) {
	execDir := dag.ExecutionDir(opts.artifactsDir)
	logger, err := logging.NewLogger(execDir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger = logger.WithBuild(opts.buildID)

	tracePath := cfg.Telemetry.TraceFile
	if tracePath == "" {
		tracePath = filepath.Join(execDir, telemetry.TraceFileName)
	}
	shutdown, err := telemetry.Setup(telemetry.Options{
		Enabled: cfg.Telemetry.Tracing,
		Path:    tracePath,
		BuildID: opts.buildID,
		Version: Version,
	})
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	tracer := telemetry.Tracer()

	e := &engine{
		cfg:             cfg,
		logger:          logger,
		bus:             event.NewBus(logger),
		metrics:         metrics.New(),
		cp:              dag.NewCheckpointer(opts.artifactsDir),
		shutdownTracing: shutdown,
	}
	e.metrics.Subscribe(e.bus)
	if opts.out != nil {
		newProgress(opts.out).subscribe(e.bus)
	}

	addr := opts.metricsAddr
	if addr == "" {
		addr = cfg.Telemetry.MetricsAddr
	}
	if addr != "" {
		mctx, cancel := context.WithCancel(ctx)
		e.stopMetrics = cancel
		go func() {
			if err := e.metrics.Serve(mctx, addr); err != nil {
				logger.Warn("metrics server stopped", "addr", addr, "error", err.Error())
			}
		}()
		logger.Info("serving metrics", "addr", addr)
	}

	router := capability.NewRouter(newCaller(cfg, logger))
	var git *gitcap.Caller
	if cfg.Capabilities.NativeGit {
		git = gitcap.New(gitcap.WithLogger(logger))
		router.RouteAll(git, gitcap.Kinds()...)
	}

	execCfg := cfg.ExecutionConfig()
	caps := capability.NewDispatcher(router,
		capability.WithLogger(logger),
		capability.WithMetrics(e.metrics),
		capability.WithTracer(tracer),
		capability.WithExecutionConfig(execCfg),
	)

	loop := codingloop.New(caps, memory.NewStore(),
		codingloop.WithLogger(logger),
		codingloop.WithSink(e.bus),
		codingloop.WithMaxIterations(execCfg.MaxCodingIterations),
		codingloop.WithIterationStore(codingloop.NewIterationStore(opts.artifactsDir)),
	)
	exec := advisor.NewExecutor(loop, caps, execCfg,
		advisor.WithLogger(logger),
		advisor.WithSink(e.bus),
		advisor.WithTracer(tracer),
	)

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithBus(e.bus),
		scheduler.WithMetrics(e.metrics),
		scheduler.WithTracer(tracer),
		scheduler.WithCheckpointer(e.cp),
		scheduler.WithDescriber(gates.NewDescriber(opts.artifactsDir)),
		scheduler.WithWorktreeDir(cfg.Workspace.ResolveWorktreeDir),
	}
	if git != nil {
		schedOpts = append(schedOpts, scheduler.WithSweep(git.Sweep))
	}
	e.scheduler = scheduler.New(caps, exec, execCfg, schedOpts...)
	return e, nil
}

// Close flushes spans, stops the metrics server, and closes the log file.
func (e *engine) Close() {
	if e.stopMetrics != nil {
		e.stopMetrics()
	}
	if err := e.shutdownTracing(context.Background()); err != nil {
		e.logger.Warn("flush traces failed", "error", err.Error())
	}
	_ = e.logger.Close()
}
