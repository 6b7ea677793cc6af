// Package bridge decouples the thread-per-request webhook front end from the
// single ordered execution stream the bot logic runs on. Updates are
// serialized onto one worker goroutine; the Telegram client is constructed
// inside that goroutine and never touched from HTTP handlers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

var (
	// ErrNotReady means initialization failed; the caller should answer 503
	// so the upstream webhook sender redelivers after the next attempt.
	ErrNotReady = errors.New("bridge not ready")

	// ErrWorkerTimeout means the bounded wait for the worker elapsed. The
	// event keeps processing to completion; only the waiting stopped.
	ErrWorkerTimeout = errors.New("worker timeout")

	// ErrStopped is returned for dispatches after shutdown.
	ErrStopped = errors.New("bridge stopped")
)

// Handler processes one update inside the worker stream.
type Handler interface {
	HandleUpdate(ctx context.Context, update *tgbotapi.Update) error
}

// Factory builds the handler (and with it the Telegram client). It is
// invoked exactly once, inside the worker goroutine, on first dispatch.
type Factory func(ctx context.Context) (Handler, error)

type state int

const (
	stateUninitialized state = iota
	stateInitializing
	stateReady
	stateStopped
)

type job struct {
	id     string
	update *tgbotapi.Update
	done   chan struct{}
}

// Bridge owns the worker stream. Zero global state: construct one and pass
// it to the HTTP server explicitly.
type Bridge struct {
	factory     Factory
	log         *slog.Logger
	waitTimeout time.Duration
	initTimeout time.Duration

	mu         sync.Mutex
	state      state
	initResult chan error // pending attempt, non-nil while Initializing
	jobs       chan job

	workerCtx    context.Context
	workerCancel context.CancelFunc
}

type Options struct {
	WaitTimeout time.Duration
	InitTimeout time.Duration
	QueueSize   int
}

func New(factory Factory, log *slog.Logger, opts Options) *Bridge {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 60 * time.Second
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 30 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		factory:      factory,
		log:          log,
		waitTimeout:  opts.WaitTimeout,
		initTimeout:  opts.InitTimeout,
		jobs:         make(chan job, opts.QueueSize),
		workerCtx:    ctx,
		workerCancel: cancel,
	}
}

// Dispatch submits one update to the worker stream and waits for it to be
// processed, up to the configured timeout. The first call initializes the
// worker; concurrent first calls block until that single initialization
// finishes.
func (b *Bridge) Dispatch(update *tgbotapi.Update) error {
	if err := b.ensureReady(); err != nil {
		return err
	}

	j := job{
		id:     uuid.NewString(),
		update: update,
		done:   make(chan struct{}),
	}

	select {
	case b.jobs <- j:
	case <-time.After(b.waitTimeout):
		b.log.Error("worker queue full", "dispatch_id", j.id)
		return ErrWorkerTimeout
	}

	select {
	case <-j.done:
		return nil
	case <-time.After(b.waitTimeout):
		// Fire-and-forget: the worker finishes the event on its own time;
		// answering 200 now keeps the upstream sender from redelivering.
		b.log.Warn("worker did not finish in time", "dispatch_id", j.id)
		return ErrWorkerTimeout
	}
}

// ensureReady performs the lazy, exactly-once initialization. Holding the
// lock across the whole init keeps every concurrent first caller parked
// until the worker is up. A failed factory resets to uninitialized so the
// next delivery retries; a factory that merely outlives the init timeout is
// NOT abandoned — the worker it started remains the only one, and the next
// delivery collects its result. Only one run goroutine can ever exist per
// ready cycle, so the single-worker ordering guarantee holds even through
// timed-out attempts.
func (b *Bridge) ensureReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateReady:
		return nil
	case stateStopped:
		return ErrStopped
	}

	if b.state == stateUninitialized {
		b.state = stateInitializing
		b.initResult = make(chan error, 1)
		b.log.Info("initializing worker stream (first delivery)")
		go b.run(b.initResult)
	}

	select {
	case err := <-b.initResult:
		b.initResult = nil
		if err != nil {
			b.state = stateUninitialized
			b.log.Error("worker init failed", "err", err)
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	case <-time.After(b.initTimeout):
		// Still initializing; the in-flight attempt keeps running and a
		// later delivery promotes (or retries on) its outcome.
		return fmt.Errorf("%w: init timeout", ErrNotReady)
	}

	b.state = stateReady
	b.log.Info("worker stream ready")
	return nil
}

// run is the worker stream: it constructs the handler first (single-context
// affinity for the Telegram client), then drains jobs strictly in submission
// order, one at a time.
func (b *Bridge) run(initResult chan<- error) {
	handler, err := b.factory(b.workerCtx)
	initResult <- err
	if err != nil {
		return
	}

	for {
		select {
		case j := <-b.jobs:
			b.process(handler, j)
		case <-b.workerCtx.Done():
			return
		}
	}
}

// process runs one event. Failures stop at this boundary: they are logged
// and the done signal fires regardless, so the HTTP side always answers 200
// once the bridge is ready.
func (b *Bridge) process(handler Handler, j job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("worker panic", "dispatch_id", j.id, "panic", r)
		}
	}()

	if err := handler.HandleUpdate(b.workerCtx, j.update); err != nil {
		b.log.Error("update processing failed", "dispatch_id", j.id, "err", err)
	}
}

// Stop shuts the bridge down. In-flight dispatch waits run out their
// timeout; new dispatches fail with ErrStopped.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateStopped {
		return
	}
	b.state = stateStopped
	b.workerCancel()
}
