package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/tasks"
)

func (p *Pool) work(w *workerStat) {
	defer p.wg.Done()
	for {
		select {
		case <-p.base.Done():
			return
		case e := <-p.queue:
			p.run(w, e)
		}
	}
}

// Backoff is the wait before retry k (1-based): base * 2^(k-1).
func Backoff(base time.Duration, k int) time.Duration {
	if k < 1 {
		k = 1
	}
	return base << (k - 1)
}

func (p *Pool) run(w *workerStat, e *entry) {
	p.mu.Lock()
	if e.snap.State != tasks.StatePending {
		// revoked while queued
		p.mu.Unlock()
		return
	}
	now := p.now()
	e.snap.State = tasks.StateStarted
	e.snap.StartedAt = &now
	e.snap.Worker = w.name
	w.active++
	w.total++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		w.active--
		p.mu.Unlock()
	}()

	maxAttempts := p.opts.MaxRetries + 1
	log := p.log.WithFields(logrus.Fields{"task_id": e.snap.ID, "task": e.snap.Name, "report_id": e.snap.Payload.ReportID})

	for n := 1; n <= maxAttempts; n++ {
		if !p.transition(e, tasks.StateStarted, func(s *tasks.Snapshot) { s.Retries = n - 1 }) {
			return
		}
		a := tasks.NewAttempt(e.snap.ID, e.snap.Name, e.snap.Payload, n, maxAttempts, func(pct int, msg string) {
			p.transition(e, "", func(s *tasks.Snapshot) {
				s.Progress = pct
				s.Message = msg
			})
		})

		result, err := p.attempt(e, a, log)
		if err == nil {
			p.transition(e, tasks.StateSuccess, func(s *tasks.Snapshot) {
				s.Progress = 100
				s.Result = result
				p.finishLocked(e)
			})
			if n > 1 {
				log.Infof("Operation succeeded on retry %d/%d", n, maxAttempts)
			}
			return
		}
		if p.revoked(e) || p.base.Err() != nil {
			log.WithError(err).Warn("attempt interrupted")
			return
		}

		retrying := n < maxAttempts
		p.onFailure(e, a, err, retrying, log)

		if !retrying {
			log.WithError(err).Errorf("All %d attempts failed", maxAttempts)
			p.transition(e, tasks.StateFailure, func(s *tasks.Snapshot) {
				s.Error = err.Error()
				p.finishLocked(e)
			})
			return
		}

		wait := Backoff(p.opts.RetryBackoff, n)
		log.WithError(err).Warnf("Attempt %d/%d failed, retrying in %v", n, maxAttempts, wait)
		if !p.transition(e, tasks.StateRetry, func(s *tasks.Snapshot) {
			s.Retries = n
			s.Error = err.Error()
			s.Message = fmt.Sprintf("Attempt %d/%d failed: %v (retrying in %v)", n, maxAttempts, err, wait)
		}) {
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-e.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// attempt runs one handler call under the soft and hard limits, recovering panics.
func (p *Pool) attempt(e *entry, a *tasks.Attempt, log logrus.FieldLogger) (string, error) {
	ctx, cancel := e.ctx, context.CancelFunc(func() {})
	if p.opts.HardTimeLimit > 0 {
		ctx, cancel = context.WithTimeout(e.ctx, p.opts.HardTimeLimit)
	}
	defer cancel()

	if p.opts.SoftTimeLimit > 0 {
		soft := time.AfterFunc(p.opts.SoftTimeLimit, func() {
			log.WithField("attempt", a.Number).Warnf("soft time limit (%v) exceeded", p.opts.SoftTimeLimit)
			p.transition(e, "", func(s *tasks.Snapshot) {
				s.Message = fmt.Sprintf("Soft time limit (%v) exceeded, still running", p.opts.SoftTimeLimit)
			})
		})
		defer soft.Stop()
	}

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		res, err := e.handler.Handle(ctx, a)
		done <- outcome{result: res, err: err}
	}()

	timedOut := func() bool {
		return errors.Is(ctx.Err(), context.DeadlineExceeded) && e.ctx.Err() == nil
	}
	select {
	case out := <-done:
		if out.err != nil && timedOut() {
			return "", fmt.Errorf("%w (%v): %v", tasks.ErrTimeLimitExceeded, p.opts.HardTimeLimit, out.err)
		}
		return out.result, out.err
	case <-ctx.Done():
		if timedOut() {
			return "", fmt.Errorf("%w (%v)", tasks.ErrTimeLimitExceeded, p.opts.HardTimeLimit)
		}
		return "", ctx.Err()
	}
}

func (p *Pool) onFailure(e *entry, a *tasks.Attempt, err error, retrying bool, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), p.opts.OnFailureTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("failure hook panicked: %v", r)
		}
	}()
	e.handler.OnFailure(ctx, a, err, retrying)
}

// transition applies fn under the lock unless the task was revoked. An empty state keeps the current one.
func (p *Pool) transition(e *entry, st tasks.State, fn func(*tasks.Snapshot)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.snap.State == tasks.StateRevoked {
		return false
	}
	if st != "" {
		e.snap.State = st
	}
	if fn != nil {
		fn(&e.snap)
	}
	return true
}

func (p *Pool) revoked(e *entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return e.snap.State == tasks.StateRevoked
}
