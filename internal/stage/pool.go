package stage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"blueline/internal/broker"
	"blueline/internal/logging"
	"blueline/internal/services"
)

// CancelCheck reports whether a job has a pending cancellation request.
// Cancelled jobs drain from the queues without side effects.
type CancelCheck func(ctx context.Context, jobID string) (bool, error)

// PoolConfig wires one topic to one handler under the shared retry policy.
type PoolConfig struct {
	Name        string
	Topic       string
	Handler     Handler
	Broker      broker.Broker
	Workers     int
	MaxAttempts int
	CancelCheck CancelCheck
	Logger      *slog.Logger
}

// Pool pumps a topic into a stage handler with a fixed number of workers and
// applies the shared retry and dead-letter policy to every delivery.
type Pool struct {
	name        string
	topic       string
	handler     Handler
	broker      broker.Broker
	workers     int
	maxAttempts int
	cancelCheck CancelCheck
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewPool validates the configuration and builds a pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Handler == nil {
		return nil, errors.New("pool requires a handler")
	}
	if cfg.Broker == nil {
		return nil, errors.New("pool requires a broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("pool requires a topic")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Topic
	}
	return &Pool{
		name:        name,
		topic:       cfg.Topic,
		handler:     cfg.Handler,
		broker:      cfg.Broker,
		workers:     workers,
		maxAttempts: maxAttempts,
		cancelCheck: cfg.CancelCheck,
		logger:      logging.NewComponentLogger(logger, name),
	}, nil
}

// Start launches the worker goroutines. They exit when the context is
// cancelled or the broker shuts the topic down.
func (p *Pool) Start(ctx context.Context) {
	deliveries := p.broker.Subscribe(p.topic)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, deliveries)
		}()
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Health reports the wrapped handler's readiness.
func (p *Pool) Health(ctx context.Context) Health {
	return p.handler.HealthCheck(ctx)
}

// Name returns the pool's stage name.
func (p *Pool) Name() string { return p.name }

func (p *Pool) run(ctx context.Context, deliveries <-chan *broker.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			p.process(ctx, delivery)
		}
	}
}

func (p *Pool) process(ctx context.Context, delivery *broker.Delivery) {
	msg := delivery.Message()
	requestID := uuid.NewString()

	msgCtx := services.WithRequestID(ctx, requestID)
	msgCtx = services.WithJobID(msgCtx, msg.JobID)
	msgCtx = services.WithStage(msgCtx, msg.Stage)
	if msg.VersionID != "" {
		msgCtx = services.WithVersionID(msgCtx, msg.VersionID)
	}
	log := logging.WithContext(msgCtx, p.logger)

	if p.cancelCheck != nil {
		cancelled, err := p.cancelCheck(msgCtx, msg.JobID)
		if err != nil {
			log.Warn("cancel flag lookup failed", logging.Error(err))
		} else if cancelled {
			log.Info("draining message for cancelled job",
				logging.String(logging.FieldEventType, "message_drained"),
				logging.Int(logging.FieldAttempt, delivery.Attempt()))
			delivery.Ack()
			return
		}
	}

	start := time.Now()
	log.Debug("message received",
		logging.String(logging.FieldTopic, delivery.Topic()),
		logging.Int(logging.FieldAttempt, delivery.Attempt()))

	err := p.handler.Handle(msgCtx, msg)
	if err == nil {
		log.Debug("message handled",
			logging.Duration("elapsed", time.Since(start)))
		delivery.Ack()
		return
	}
	if errors.Is(err, context.Canceled) {
		log.Debug("message interrupted by shutdown")
		delivery.Nack()
		return
	}

	retryable := errors.Is(err, ErrNotReady) || services.Retryable(err)
	if retryable && delivery.Attempt() < p.maxAttempts {
		log.Warn("message handling failed, requeueing",
			logging.Error(err),
			logging.Int(logging.FieldAttempt, delivery.Attempt()),
			logging.Int("max_attempts", p.maxAttempts))
		delivery.Nack()
		return
	}

	log.Error("message exhausted delivery attempts",
		logging.Error(err),
		logging.Int(logging.FieldAttempt, delivery.Attempt()),
		logging.Alert("dead_letter"))
	delivery.DeadLetter(err.Error())
}
