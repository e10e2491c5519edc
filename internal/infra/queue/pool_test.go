package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/tasks"
	"github.com/bryanwahyu/fin-analyzer/internal/logger"
)

type failure struct {
	attempt  int
	err      error
	retrying bool
}

type fakeHandler struct {
	calls atomic.Int32
	fn    func(ctx context.Context, a *tasks.Attempt) (string, error)

	mu       sync.Mutex
	failures []failure
}

func (h *fakeHandler) Handle(ctx context.Context, a *tasks.Attempt) (string, error) {
	h.calls.Add(1)
	return h.fn(ctx, a)
}

func (h *fakeHandler) OnFailure(_ context.Context, a *tasks.Attempt, err error, retrying bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, failure{attempt: a.Number, err: err, retrying: retrying})
}

func (h *fakeHandler) recorded() []failure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]failure(nil), h.failures...)
}

func testOptions() Options {
	return Options{
		Concurrency:  2,
		QueueSize:    10,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		ResultTTL:    time.Hour,
	}
}

func newPool(t *testing.T, opts Options, h tasks.Handler) *Pool {
	t.Helper()
	p := New(opts, logger.Discard())
	p.Register("analysis.risk", h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func waitState(t *testing.T, p *Pool, id string, want tasks.State) tasks.Snapshot {
	t.Helper()
	var snap tasks.Snapshot
	require.Eventually(t, func() bool {
		s, ok := p.Status(id)
		snap = s
		return ok && s.State == want
	}, 2*time.Second, 5*time.Millisecond, "task never reached %s", want)
	return snap
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 60*time.Second, Backoff(60*time.Second, 1))
	assert.Equal(t, 120*time.Second, Backoff(60*time.Second, 2))
	assert.Equal(t, 240*time.Second, Backoff(60*time.Second, 3))
}

func TestPoolDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Should run a task to success", func(t *testing.T) {
		h := &fakeHandler{fn: func(_ context.Context, a *tasks.Attempt) (string, error) {
			a.Progress(30, "Running AI analysis...")
			return "report written", nil
		}}
		p := newPool(t, testOptions(), h)
		p.Start()

		id, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{ReportID: "r1"})
		require.NoError(t, err)

		snap := waitState(t, p, id, tasks.StateSuccess)
		assert.Equal(t, "report written", snap.Result)
		assert.Equal(t, 100, snap.Progress)
		assert.NotNil(t, snap.StartedAt)
		assert.NotNil(t, snap.FinishedAt)
		assert.NotEmpty(t, snap.Worker)

		_, live := p.ReportTask("r1")
		assert.False(t, live)
		assert.Empty(t, h.recorded())
	})

	t.Run("Should stop after max retries plus one attempts", func(t *testing.T) {
		h := &fakeHandler{fn: func(context.Context, *tasks.Attempt) (string, error) {
			return "", errors.New("model unavailable")
		}}
		p := newPool(t, testOptions(), h)
		p.Start()

		id, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{ReportID: "r1"})
		require.NoError(t, err)

		snap := waitState(t, p, id, tasks.StateFailure)
		assert.Equal(t, int32(4), h.calls.Load())
		assert.Equal(t, "model unavailable", snap.Error)
		assert.Equal(t, 3, snap.Retries)

		got := h.recorded()
		require.Len(t, got, 4)
		for i, f := range got {
			assert.Equal(t, i+1, f.attempt)
			assert.Equal(t, i < 3, f.retrying)
		}
	})

	t.Run("Should succeed after transient failures", func(t *testing.T) {
		h := &fakeHandler{}
		h.fn = func(_ context.Context, a *tasks.Attempt) (string, error) {
			if a.Number < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		}
		p := newPool(t, testOptions(), h)
		p.Start()

		id, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{ReportID: "r1"})
		require.NoError(t, err)
		snap := waitState(t, p, id, tasks.StateSuccess)
		assert.Equal(t, 2, snap.Retries)
		assert.Len(t, h.recorded(), 2)
	})

	t.Run("Should reject unknown task names", func(t *testing.T) {
		p := newPool(t, testOptions(), &fakeHandler{})
		_, err := p.Dispatch(ctx, "analysis.unknown", tasks.Payload{})
		assert.Error(t, err)
	})
}

func TestPoolOneLiveTaskPerReport(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{}, 1)
	h := &fakeHandler{fn: func(ctx context.Context, _ *tasks.Attempt) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	}}
	p := newPool(t, testOptions(), h)
	p.Start()

	id, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{ReportID: "r1"})
	require.NoError(t, err)
	<-started

	_, err = p.Dispatch(ctx, "analysis.risk", tasks.Payload{ReportID: "r1"})
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)

	got, ok := p.ReportTask("r1")
	require.True(t, ok)
	assert.Equal(t, id, got)

	require.True(t, p.Cancel(id))
	snap, ok := p.Status(id)
	require.True(t, ok)
	assert.Equal(t, tasks.StateRevoked, snap.State)
	assert.False(t, p.Cancel(id))

	_, ok = p.ReportTask("r1")
	assert.False(t, ok)

	// the cancelled attempt must not be reported as a failure
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.recorded())
	snap, _ = p.Status(id)
	assert.Equal(t, tasks.StateRevoked, snap.State)
}

func TestPoolLimits(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fail an attempt that exceeds the hard limit", func(t *testing.T) {
		h := &fakeHandler{fn: func(ctx context.Context, _ *tasks.Attempt) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}
		opts := testOptions()
		opts.MaxRetries = 0
		opts.HardTimeLimit = 20 * time.Millisecond
		p := newPool(t, opts, h)
		p.Start()

		id, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{ReportID: "r1"})
		require.NoError(t, err)
		snap := waitState(t, p, id, tasks.StateFailure)
		assert.Contains(t, snap.Error, "hard time limit exceeded")

		got := h.recorded()
		require.Len(t, got, 1)
		assert.ErrorIs(t, got[0].err, tasks.ErrTimeLimitExceeded)
		assert.False(t, got[0].retrying)
	})

	t.Run("Should surface the soft limit as the progress message", func(t *testing.T) {
		release := make(chan struct{})
		h := &fakeHandler{fn: func(context.Context, *tasks.Attempt) (string, error) {
			<-release
			return "ok", nil
		}}
		opts := testOptions()
		opts.SoftTimeLimit = 10 * time.Millisecond
		p := newPool(t, opts, h)
		p.Start()

		id, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{})
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			s, _ := p.Status(id)
			return s.State == tasks.StateStarted && s.Message != ""
		}, time.Second, 5*time.Millisecond)
		s, _ := p.Status(id)
		assert.Contains(t, s.Message, "Soft time limit")
		close(release)
		waitState(t, p, id, tasks.StateSuccess)
	})

	t.Run("Should recover handler panics", func(t *testing.T) {
		h := &fakeHandler{fn: func(context.Context, *tasks.Attempt) (string, error) {
			panic("boom")
		}}
		opts := testOptions()
		opts.MaxRetries = 1
		p := newPool(t, opts, h)
		p.Start()

		id, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{})
		require.NoError(t, err)
		snap := waitState(t, p, id, tasks.StateFailure)
		assert.Contains(t, snap.Error, "task panicked: boom")
		assert.Equal(t, int32(2), h.calls.Load())
	})
}

func TestPoolQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fail fast when the queue is full", func(t *testing.T) {
		opts := testOptions()
		opts.QueueSize = 1
		p := newPool(t, opts, &fakeHandler{})

		_, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{ReportID: "r1"})
		require.NoError(t, err)
		_, err = p.Dispatch(ctx, "analysis.risk", tasks.Payload{ReportID: "r2"})
		assert.ErrorIs(t, err, ErrQueueFull)

		q := p.Queues()
		assert.Equal(t, 1, q.TotalPending)
		assert.Equal(t, 1, q.Queues["analysis"])
		assert.Len(t, p.Active(), 1)

		_, ok := p.ReportTask("r2")
		assert.False(t, ok)
	})

	t.Run("Should drop a task revoked while queued", func(t *testing.T) {
		h := &fakeHandler{fn: func(context.Context, *tasks.Attempt) (string, error) { return "ok", nil }}
		p := newPool(t, testOptions(), h)

		id, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{})
		require.NoError(t, err)
		require.True(t, p.Cancel(id))

		p.Start()
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, h.calls.Load())
		snap, _ := p.Status(id)
		assert.Equal(t, tasks.StateRevoked, snap.State)
	})

	t.Run("Should expire finished records after the ttl", func(t *testing.T) {
		h := &fakeHandler{fn: func(context.Context, *tasks.Attempt) (string, error) { return "ok", nil }}
		p := newPool(t, testOptions(), h)
		p.Start()

		id, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{})
		require.NoError(t, err)
		waitState(t, p, id, tasks.StateSuccess)

		assert.Zero(t, p.expire(time.Now()))
		assert.Equal(t, 1, p.expire(time.Now().Add(2*time.Hour)))
		_, ok := p.Status(id)
		assert.False(t, ok)
	})

	t.Run("Should report worker stats", func(t *testing.T) {
		h := &fakeHandler{fn: func(context.Context, *tasks.Attempt) (string, error) { return "ok", nil }}
		p := newPool(t, testOptions(), h)
		p.Start()

		id, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{})
		require.NoError(t, err)
		waitState(t, p, id, tasks.StateSuccess)

		st := p.Stats()
		assert.Equal(t, 2, st.TotalWorkers)
		var total int64
		for _, w := range st.Workers {
			total += w.TotalTasks
		}
		assert.Equal(t, int64(1), total)
	})
}

func TestPoolReady(t *testing.T) {
	ctx := context.Background()

	t.Run("Should be ready only between start and shutdown", func(t *testing.T) {
		p := newPool(t, testOptions(), &fakeHandler{})
		assert.EqualError(t, p.Ready(ctx), "task pool not started")

		p.Start()
		assert.NoError(t, p.Ready(ctx))

		require.NoError(t, p.Shutdown(ctx))
		assert.EqualError(t, p.Ready(ctx), "task pool is shut down")
	})

	t.Run("Should not be ready while the queue is saturated", func(t *testing.T) {
		opts := testOptions()
		opts.Concurrency = 1
		opts.QueueSize = 1
		blocked := &fakeHandler{fn: func(ctx context.Context, _ *tasks.Attempt) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}
		p := newPool(t, opts, blocked)
		p.Start()

		first, err := p.Dispatch(ctx, "analysis.risk", tasks.Payload{ReportID: "r1"})
		require.NoError(t, err)
		waitState(t, p, first, tasks.StateStarted)
		_, err = p.Dispatch(ctx, "analysis.risk", tasks.Payload{ReportID: "r2"})
		require.NoError(t, err)

		assert.ErrorIs(t, p.Ready(ctx), ErrQueueFull)
	})
}
