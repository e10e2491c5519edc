// Package queue is an in-process task dispatcher: a buffered queue drained by a fixed
// set of workers, with bounded exponential retry and per-attempt time limits.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/tasks"
)

var ErrQueueFull = errors.New("task queue is full")

type Options struct {
	Name          string
	Concurrency   int
	QueueSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
	ResultTTL     time.Duration
	// OnFailureTimeout bounds the handler's failure hook, which runs detached from the attempt context.
	OnFailureTimeout time.Duration
}

type entry struct {
	snap    tasks.Snapshot
	handler tasks.Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

type workerStat struct {
	name   string
	active int
	total  int64
}

// Pool implements tasks.Dispatcher.
type Pool struct {
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time

	base   context.Context
	stop   context.CancelFunc
	queue  chan *entry
	wg      sync.WaitGroup
	once    sync.Once
	started bool
	closed  bool

	mu       sync.Mutex
	handlers map[string]tasks.Handler
	entries  map[string]*entry
	byReport map[string]string
	workers  []*workerStat
}

func New(opts Options, log logrus.FieldLogger) *Pool {
	if opts.Name == "" {
		opts.Name = "analysis"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.OnFailureTimeout <= 0 {
		opts.OnFailureTimeout = 30 * time.Second
	}
	base, stop := context.WithCancel(context.Background())
	p := &Pool{
		opts:     opts,
		log:      log,
		now:      time.Now,
		base:     base,
		stop:     stop,
		queue:    make(chan *entry, opts.QueueSize),
		handlers: map[string]tasks.Handler{},
		entries:  map[string]*entry{},
		byReport: map[string]string{},
	}
	for i := 0; i < opts.Concurrency; i++ {
		p.workers = append(p.workers, &workerStat{name: fmt.Sprintf("%s-worker-%d", opts.Name, i+1)})
	}
	return p
}

// Register binds a handler to a task name. Call before Start.
func (p *Pool) Register(name string, h tasks.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
}

// Start launches the workers and the janitor that expires finished records.
func (p *Pool) Start() {
	p.once.Do(func() {
		for _, w := range p.workers {
			p.wg.Add(1)
			go p.work(w)
		}
		p.wg.Add(1)
		go p.janitor()
		p.mu.Lock()
		p.started = true
		p.mu.Unlock()
		p.log.WithFields(logrus.Fields{"workers": len(p.workers), "queue": p.opts.Name}).Info("task pool started")
	})
}

// Ready fails before Start, after Shutdown and while the queue is saturated.
func (p *Pool) Ready(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return errors.New("task pool is shut down")
	case !p.started:
		return errors.New("task pool not started")
	case len(p.queue) >= cap(p.queue):
		return ErrQueueFull
	}
	return nil
}

// Shutdown cancels running attempts and waits for the workers to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Dispatch(ctx context.Context, name string, payload tasks.Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", errors.New("task pool is shut down")
	}
	h, ok := p.handlers[name]
	if !ok {
		return "", fmt.Errorf("no handler registered for task %q", name)
	}
	if payload.ReportID != "" {
		if id, busy := p.byReport[payload.ReportID]; busy {
			return "", fmt.Errorf("%w: report %s already has live task %s", errs.ErrAlreadyExists, payload.ReportID, id)
		}
	}

	id := uuid.NewString()
	tctx, cancel := context.WithCancel(p.base)
	e := &entry{
		snap: tasks.Snapshot{
			ID:         id,
			Name:       name,
			State:      tasks.StatePending,
			Payload:    payload,
			EnqueuedAt: p.now(),
		},
		handler: h,
		ctx:     tctx,
		cancel:  cancel,
	}

	select {
	case p.queue <- e:
	default:
		cancel()
		return "", ErrQueueFull
	}
	p.entries[id] = e
	if payload.ReportID != "" {
		p.byReport[payload.ReportID] = id
	}
	p.log.WithFields(logrus.Fields{"task_id": id, "task": name, "report_id": payload.ReportID}).Info("task queued")
	return id, nil
}

func (p *Pool) Status(id string) (tasks.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return tasks.Snapshot{}, false
	}
	return e.snap, true
}

// Cancel revokes a live task. Queued tasks are skipped when dequeued; running or
// backing-off tasks have their context cancelled.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok || !e.snap.State.Live() {
		return false
	}
	e.snap.State = tasks.StateRevoked
	e.snap.Message = "Task revoked"
	p.finishLocked(e)
	e.cancel()
	p.log.WithFields(logrus.Fields{"task_id": id, "report_id": e.snap.Payload.ReportID}).Warn("task revoked")
	return true
}

func (p *Pool) ReportTask(reportID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byReport[reportID]
	return id, ok
}

// Active lists live tasks, oldest first.
func (p *Pool) Active() []tasks.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []tasks.Snapshot{}
	for _, e := range p.entries {
		if e.snap.State.Live() {
			out = append(out, e.snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out
}

func (p *Pool) Stats() tasks.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := tasks.Stats{TotalWorkers: len(p.workers)}
	for _, w := range p.workers {
		st.Workers = append(st.Workers, tasks.WorkerStats{Worker: w.name, ActiveTasks: w.active, TotalTasks: w.total})
		st.TotalActiveTasks += w.active
	}
	return st
}

func (p *Pool) Queues() tasks.QueueInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending := 0
	for _, e := range p.entries {
		if e.snap.State == tasks.StatePending {
			pending++
		}
	}
	return tasks.QueueInfo{Queues: map[string]int{p.opts.Name: pending}, TotalPending: pending}
}

// finishLocked stamps the finish time and frees the report slot. Caller holds p.mu.
func (p *Pool) finishLocked(e *entry) {
	now := p.now()
	e.snap.FinishedAt = &now
	if rid := e.snap.Payload.ReportID; rid != "" && p.byReport[rid] == e.snap.ID {
		delete(p.byReport, rid)
	}
}

func (p *Pool) janitor() {
	defer p.wg.Done()
	interval := time.Minute
	if p.opts.ResultTTL > 0 && p.opts.ResultTTL/2 < interval {
		interval = p.opts.ResultTTL / 2
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.base.Done():
			return
		case <-ticker.C:
			if n := p.expire(p.now()); n > 0 {
				p.log.WithField("expired", n).Debug("expired finished task records")
			}
		}
	}
}

// expire drops finished records older than ResultTTL.
func (p *Pool) expire(now time.Time) int {
	if p.opts.ResultTTL <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, e := range p.entries {
		if e.snap.FinishedAt != nil && now.Sub(*e.snap.FinishedAt) >= p.opts.ResultTTL {
			delete(p.entries, id)
			n++
		}
	}
	return n
}
