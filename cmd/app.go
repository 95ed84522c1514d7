package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/lectio/internal/config"
	"github.com/abhisek/lectio/internal/gating"
	"github.com/abhisek/lectio/internal/llm"
	"github.com/abhisek/lectio/internal/logging"
	"github.com/abhisek/lectio/internal/memjob"
	"github.com/abhisek/lectio/internal/metering"
	"github.com/abhisek/lectio/internal/promptctx"
	"github.com/abhisek/lectio/internal/reading"
	"github.com/abhisek/lectio/internal/scoring"
	"github.com/abhisek/lectio/internal/statecache"
	"github.com/abhisek/lectio/internal/store"
	"github.com/abhisek/lectio/internal/tutor"
)

// app holds the wired application.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	registry *prometheus.Registry
	sink     *metering.Sink
	llm      *llm.Orchestrator
	cache    statecache.Cache
	queue    memjob.Queue
	machine  *reading.Machine
	tutor    *tutor.Service
}

// newApp opens the store and builds every collaborator. When serving, the
// memory job consumer follows queue.consume; one-shot commands consume only
// from the in-process queue, since nothing else would.
func newApp(cmd *cobra.Command, serving bool) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbPath, err := resolveDBPath(cmd, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	if a.store, err = store.Open(dbPath); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.sink = metering.NewSink(a.store, metering.NewMetrics(a.registry), log)

	if a.llm, err = llm.NewFromConfig(ctx, cfg.LLM, a.sink, log); err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	if !a.llm.IsAIAvailable() {
		log.Warn("no LLM provider configured, tutor replies will be degraded")
	}

	if a.cache, err = statecache.New(ctx, cfg.Cache, log); err != nil {
		return nil, fmt.Errorf("init state cache: %w", err)
	}
	if a.queue, err = memjob.New(cfg.Queue, log); err != nil {
		return nil, fmt.Errorf("init memory queue: %w", err)
	}

	consume := cfg.Queue.Consume && (serving || cfg.Queue.NATSURL == "")
	if consume {
		compactor := memjob.NewCompactor(a.store, a.cache, a.llm, log)
		err := a.queue.Consume(func(ctx context.Context, job memjob.Job) error {
			if err := compactor.Handle(ctx, job); err != nil {
				a.sink.MemoryJob("failed")
				return err
			}
			a.sink.MemoryJob("processed")
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("start memory job consumer: %w", err)
		}
	}

	a.machine = reading.NewMachine(a.store, a.store, a.store,
		gating.New(a.store, a.store),
		reading.WithLogger(log))

	a.tutor = tutor.New(tutor.Deps{
		Machine:  a.machine,
		Outcomes: a.store,
		Context:  promptctx.NewBuilder(a.store, a.store, a.cache, cfg.Context, log),
		LLM:      a.llm,
		Scorer:   scoring.NewService(a.store, a.store, scoring.NewEngine(cfg.Scoring), log),
		Queue:    a.queue,
		Metrics:  a.sink,
		Log:      log,
	}, cfg.Tutor)

	ok = true
	return a, nil
}

// Close waits for finish hooks, then releases resources in reverse order.
func (a *app) Close() {
	if a.machine != nil {
		a.machine.Wait()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.log.Warn("close memory queue", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("close state cache", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
