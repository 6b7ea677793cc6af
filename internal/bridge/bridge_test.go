package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu    sync.Mutex
	seen  []int
	delay time.Duration
	fail  error
	panic bool

	active        atomic.Int32
	maxConcurrent atomic.Int32
}

func (h *recordingHandler) HandleUpdate(ctx context.Context, update *tgbotapi.Update) error {
	n := h.active.Add(1)
	defer h.active.Add(-1)
	for {
		max := h.maxConcurrent.Load()
		if n <= max || h.maxConcurrent.CompareAndSwap(max, n) {
			break
		}
	}
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.seen = append(h.seen, update.UpdateID)
	h.mu.Unlock()
	if h.panic {
		panic("handler blew up")
	}
	return h.fail
}

func (h *recordingHandler) order() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.seen))
	copy(out, h.seen)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func update(id int) *tgbotapi.Update {
	return &tgbotapi.Update{UpdateID: id}
}

func TestDispatchInitializesOnce(t *testing.T) {
	var inits atomic.Int32
	h := &recordingHandler{}
	b := New(func(ctx context.Context) (Handler, error) {
		inits.Add(1)
		time.Sleep(20 * time.Millisecond)
		return h, nil
	}, testLogger(), Options{WaitTimeout: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, b.Dispatch(update(id)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), inits.Load())
	assert.Len(t, h.order(), 10)
}

func TestFailedInitRetriesOnNextDispatch(t *testing.T) {
	var attempts atomic.Int32
	h := &recordingHandler{}
	b := New(func(ctx context.Context) (Handler, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("token rejected")
		}
		return h, nil
	}, testLogger(), Options{WaitTimeout: time.Second})

	err := b.Dispatch(update(1))
	require.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, b.Dispatch(update(2)))
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, []int{2}, h.order())
}

func TestInitTimeoutThenLateSuccessKeepsSingleWorker(t *testing.T) {
	var inits atomic.Int32
	h := &recordingHandler{delay: 2 * time.Millisecond}
	b := New(func(ctx context.Context) (Handler, error) {
		inits.Add(1)
		time.Sleep(100 * time.Millisecond)
		return h, nil
	}, testLogger(), Options{WaitTimeout: time.Second, InitTimeout: 20 * time.Millisecond})

	// The factory outlives the init timeout: the delivery is rejected but
	// the one in-flight attempt must stay the only one.
	err := b.Dispatch(update(1))
	require.ErrorIs(t, err, ErrNotReady)

	time.Sleep(120 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 2; i <= 11; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, b.Dispatch(update(id)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), inits.Load(), "timed-out attempt must not be re-run")
	assert.Len(t, h.order(), 10)
	assert.Equal(t, int32(1), h.maxConcurrent.Load(), "only one worker may drain the stream")
}

func TestDispatchPreservesSubmissionOrder(t *testing.T) {
	h := &recordingHandler{delay: time.Millisecond}
	b := New(func(ctx context.Context) (Handler, error) {
		return h, nil
	}, testLogger(), Options{WaitTimeout: time.Second})

	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Dispatch(update(i)))
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, h.order())
}

func TestSlowHandlerTimesOutButCompletes(t *testing.T) {
	h := &recordingHandler{delay: 150 * time.Millisecond}
	b := New(func(ctx context.Context) (Handler, error) {
		return h, nil
	}, testLogger(), Options{WaitTimeout: 50 * time.Millisecond})

	err := b.Dispatch(update(7))
	require.ErrorIs(t, err, ErrWorkerTimeout)

	// Fire-and-forget: the worker still finishes the event.
	assert.Eventually(t, func() bool {
		return len(h.order()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandlerPanicDoesNotKillWorker(t *testing.T) {
	h := &recordingHandler{panic: true}
	b := New(func(ctx context.Context) (Handler, error) {
		return h, nil
	}, testLogger(), Options{WaitTimeout: time.Second})

	require.NoError(t, b.Dispatch(update(1)))

	h.panic = false
	require.NoError(t, b.Dispatch(update(2)))
	assert.Equal(t, []int{1, 2}, h.order())
}

func TestHandlerErrorStillAcknowledged(t *testing.T) {
	h := &recordingHandler{fail: errors.New("downstream unavailable")}
	b := New(func(ctx context.Context) (Handler, error) {
		return h, nil
	}, testLogger(), Options{WaitTimeout: time.Second})

	assert.NoError(t, b.Dispatch(update(1)))
}

func TestStopRejectsNewDispatches(t *testing.T) {
	b := New(func(ctx context.Context) (Handler, error) {
		return &recordingHandler{}, nil
	}, testLogger(), Options{WaitTimeout: time.Second})

	require.NoError(t, b.Dispatch(update(1)))
	b.Stop()
	assert.ErrorIs(t, b.Dispatch(update(2)), ErrStopped)
}
