package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cgradwohl/backend-services-2-sub001/internal/actions"
	"github.com/cgradwohl/backend-services-2-sub001/internal/expressions"
	"github.com/cgradwohl/backend-services-2-sub001/internal/queue"
	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/internal/streaming"
	"github.com/cgradwohl/backend-services-2-sub001/internal/validation"
)

// Options configures an Engine. Store and Queue are required; collaborator
// services default to the in-process implementations.
type Options struct {
	Store store.Store
	Queue queue.Queue

	Delivery  services.Delivery
	Lists     services.Lists
	Profiles  services.Profiles
	Webhook   services.Webhook
	Templates services.Templates

	ConditionEngine string
	PoolSize        int
	SweepInterval   time.Duration
	Consumer        ConsumerConfig
	CircuitBreaker  CircuitBreakerConfig

	// Events receives run and step status changes. Defaults to an
	// in-process MemoryHub.
	Events streaming.Hub

	Reporter ErrorReporter
	// Now is the engine clock. A store that accepts a clock shares it.
	Now    func() time.Time
	Logger *slog.Logger
}

type clockSetter interface {
	SetClock(now func() time.Time)
}

// Engine wires the ingestion service, dispatcher, queue consumer and delay
// sweeper over one store and queue.
type Engine struct {
	Service    *Service
	Dispatcher *Dispatcher
	Consumer   *Consumer
	Sweeper    *Sweeper
	Registry   *actions.Registry
	Events     streaming.Hub

	pool   *WorkerPool
	logger *slog.Logger
}

// New builds an Engine from opts.
func New(opts Options) (*Engine, error) {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	} else if c, ok := opts.Store.(clockSetter); ok {
		c.SetClock(opts.Now)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Delivery == nil {
		opts.Delivery = services.NewMemoryDelivery()
	}
	if opts.Lists == nil {
		opts.Lists = services.NewMemoryLists()
	}
	if opts.Profiles == nil {
		opts.Profiles = services.NewMemoryProfiles()
	}
	if opts.Webhook == nil {
		opts.Webhook = services.NewHTTPWebhook(services.WebhookConfig{})
	}
	if opts.Templates == nil {
		opts.Templates = services.NewStoreTemplates(opts.Store, expressions.NewGoJQEngine())
	}
	if opts.Events == nil {
		opts.Events = streaming.NewMemoryHub()
	}
	if opts.CircuitBreaker.FailureThreshold == 0 {
		opts.CircuitBreaker = DefaultCircuitBreakerConfig()
	}
	logger := opts.Logger

	condEngine, err := expressions.NewConditionEngine(opts.ConditionEngine)
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}

	orchestrator := NewOrchestrator(opts.Store, opts.Queue, opts.Now, logger)
	cancels := NewCancellationService(opts.Store, opts.Events, logger)
	svc := &Service{
		store:        opts.Store,
		validator:    validator,
		orchestrator: orchestrator,
		templates:    opts.Templates,
		cancels:      cancels,
		events:       opts.Events,
		now:          opts.Now,
		logger:       logger,
	}

	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry, actions.Deps{
		Delivery: opts.Delivery,
		Lists:    opts.Lists,
		Profiles: opts.Profiles,
		Webhook:  opts.Webhook,
		Contexts: opts.Store,
		Invoker:  svc,
		Canceler: cancels,
		Waker:    NewDelayScheduler(opts.Store, opts.Queue, opts.Now, logger),
		Now:      opts.Now,
		Logger:   logger,
	}); err != nil {
		return nil, err
	}

	dispatcher := NewDispatcher(DispatcherDeps{
		Store:      opts.Store,
		Queue:      opts.Queue,
		Registry:   registry,
		Conditions: expressions.NewConditionEvaluator(condEngine),
		Validator:  validator,
		Refs:       NewRefIndex(opts.Store, opts.Delivery),
		Guard:      NewIdempotencyGuard(opts.Store, opts.Now),
		Breakers:   NewCircuitBreakerRegistry(opts.CircuitBreaker),
		Reporter:   opts.Reporter,
		Events:     opts.Events,
		Now:        opts.Now,
		Logger:     logger,
	})

	pool := NewWorkerPool(opts.PoolSize)
	pool.OnPanic = func(err error) {
		logger.Error("step handler panicked", slog.String("error", err.Error()))
	}

	return &Engine{
		Service:    svc,
		Dispatcher: dispatcher,
		Consumer:   NewConsumer(opts.Queue, dispatcher, pool, opts.Consumer, opts.Now, logger),
		Sweeper:    NewSweeper(opts.Store, opts.Queue, opts.Now, opts.SweepInterval, logger),
		Registry:   registry,
		Events:     opts.Events,
		pool:       pool,
		logger:     logger,
	}, nil
}

// Run consumes step messages and sweeps delay items until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Consumer.Run(gctx) })
	g.Go(func() error { return e.Sweeper.Run(gctx) })
	err := g.Wait()
	e.pool.Shutdown()
	e.logger.Info("engine stopped")
	return err
}
