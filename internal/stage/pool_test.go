package stage_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blueline/internal/broker"
	"blueline/internal/services"
	"blueline/internal/stage"
	"blueline/internal/testsupport"
)

type stubHandler struct {
	mu      sync.Mutex
	calls   int32
	handle  func(ctx context.Context, msg broker.Message) error
	handled []broker.Message
}

func (h *stubHandler) Handle(ctx context.Context, msg broker.Message) error {
	atomic.AddInt32(&h.calls, 1)
	h.mu.Lock()
	h.handled = append(h.handled, msg)
	h.mu.Unlock()
	if h.handle != nil {
		return h.handle(ctx, msg)
	}
	return nil
}

func (h *stubHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("stub")
}

func (h *stubHandler) callCount() int {
	return int(atomic.LoadInt32(&h.calls))
}

func startPool(t *testing.T, mb broker.Broker, handler stage.Handler, maxAttempts int, cancelCheck stage.CancelCheck) (context.CancelFunc, *stage.Pool) {
	t.Helper()

	pool, err := stage.NewPool(stage.PoolConfig{
		Name:        "stub",
		Topic:       broker.TopicOCR,
		Handler:     handler,
		Broker:      mb,
		Workers:     2,
		MaxAttempts: maxAttempts,
		CancelCheck: cancelCheck,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Wait()
	})
	return cancel, pool
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoolAcksSuccessfulHandling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mb := broker.NewMemory(cfg)
	defer mb.Close()

	handler := &stubHandler{}
	startPool(t, mb, handler, 5, nil)

	if err := mb.Publish(context.Background(), broker.TopicOCR, broker.Message{Stage: "ocr", JobID: "job-1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, "handler invocation", func() bool { return handler.callCount() == 1 })
	waitFor(t, "queue drain", func() bool { return mb.Depth(broker.TopicOCR) == 0 })
}

func TestPoolRetriesTransientErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mb := broker.NewMemory(cfg)
	defer mb.Close()

	handler := &stubHandler{}
	handler.handle = func(ctx context.Context, msg broker.Message) error {
		if msg.Attempt < 3 {
			return services.Wrap(services.ErrTransient, "ocr", "extract page", "extraction briefly unavailable", nil)
		}
		return nil
	}
	startPool(t, mb, handler, 5, nil)

	if err := mb.Publish(context.Background(), broker.TopicOCR, broker.Message{Stage: "ocr", JobID: "job-2"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, "three attempts", func() bool { return handler.callCount() == 3 })

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.handled[2].Attempt != 3 {
		t.Fatalf("final attempt = %d, want 3", handler.handled[2].Attempt)
	}
}

func TestPoolDeadLettersAtCeiling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mb := broker.NewMemory(cfg)
	defer mb.Close()

	handler := &stubHandler{}
	handler.handle = func(ctx context.Context, msg broker.Message) error {
		return services.Wrap(services.ErrTransient, "ocr", "extract page", "extraction down", nil)
	}
	startPool(t, mb, handler, 3, nil)

	dead := mb.Subscribe(broker.DeadLetterTopic(broker.TopicOCR))
	if err := mb.Publish(context.Background(), broker.TopicOCR, broker.Message{Stage: "ocr", JobID: "job-3"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case delivery := <-dead:
		if delivery.Attempt() != 3 {
			t.Fatalf("dead letter attempt = %d, want ceiling 3", delivery.Attempt())
		}
		delivery.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dead letter")
	}
	if handler.callCount() != 3 {
		t.Fatalf("handler calls = %d, want 3", handler.callCount())
	}
}

func TestPoolDeadLettersValidationErrorsImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mb := broker.NewMemory(cfg)
	defer mb.Close()

	handler := &stubHandler{}
	handler.handle = func(ctx context.Context, msg broker.Message) error {
		return services.Wrap(services.ErrValidation, "ocr", "parse message", "unknown version id", nil)
	}
	startPool(t, mb, handler, 5, nil)

	dead := mb.Subscribe(broker.DeadLetterTopic(broker.TopicOCR))
	if err := mb.Publish(context.Background(), broker.TopicOCR, broker.Message{Stage: "ocr", JobID: "job-4"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case delivery := <-dead:
		if delivery.Attempt() != 1 {
			t.Fatalf("dead letter attempt = %d, want 1", delivery.Attempt())
		}
		delivery.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dead letter")
	}
	if handler.callCount() != 1 {
		t.Fatalf("handler calls = %d, want 1 for a validation error", handler.callCount())
	}
}

func TestPoolDrainsCancelledJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mb := broker.NewMemory(cfg)
	defer mb.Close()

	handler := &stubHandler{}
	cancelCheck := func(ctx context.Context, jobID string) (bool, error) {
		return jobID == "cancelled-job", nil
	}
	startPool(t, mb, handler, 5, cancelCheck)

	if err := mb.Publish(context.Background(), broker.TopicOCR, broker.Message{Stage: "ocr", JobID: "cancelled-job"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := mb.Publish(context.Background(), broker.TopicOCR, broker.Message{Stage: "ocr", JobID: "live-job"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, "live job handled", func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		for _, msg := range handler.handled {
			if msg.JobID == "live-job" {
				return true
			}
		}
		return false
	})
	waitFor(t, "queue drain", func() bool { return mb.Depth(broker.TopicOCR) == 0 })

	handler.mu.Lock()
	defer handler.mu.Unlock()
	for _, msg := range handler.handled {
		if msg.JobID == "cancelled-job" {
			t.Fatal("cancelled job message reached the handler")
		}
	}
}

func TestPoolRequeuesNotReady(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mb := broker.NewMemory(cfg)
	defer mb.Close()

	var ready atomic.Bool
	handler := &stubHandler{}
	handler.handle = func(ctx context.Context, msg broker.Message) error {
		if !ready.Load() {
			return stage.ErrNotReady
		}
		return nil
	}
	startPool(t, mb, handler, 10, nil)

	if err := mb.Publish(context.Background(), broker.TopicOCR, broker.Message{Stage: "summary", JobID: "job-5"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, "first not-ready attempt", func() bool { return handler.callCount() >= 1 })
	ready.Store(true)
	waitFor(t, "queue drain after readiness", func() bool { return mb.Depth(broker.TopicOCR) == 0 })
}
