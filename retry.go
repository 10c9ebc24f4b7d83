package xbeacon

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// maxBackoffShift caps the exponent so base<<attempt cannot overflow.
const maxBackoffShift = 20

// retryRecord is a failed batch waiting for its next attempt. A record stays
// in the retry set while its resend is in flight. done marks a record whose
// resend succeeded, so a reclaimed hand-off does not bring it back.
type retryRecord struct {
	priority Priority
	events   []Event
	attempts int
	nextAt   time.Time
	sending  bool
	done     bool
}

// backoff returns base·2^attempt.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	if attempt < 0 {
		attempt = 0
	}
	return base << uint(attempt)
}

// retryBudget is the number of resends a failed batch gets.
func (e *Engine) retryBudget() int {
	return max(0, e.cfg.MaxRetries)
}

// retryLocked adds a batch whose first delivery failed to the retry set. Its
// first retry becomes eligible after one base interval. It returns nil when
// retries are disabled; the caller drops the batch.
func (e *Engine) retryLocked(p Priority, events []Event) *retryRecord {
	if e.retryBudget() == 0 {
		return nil
	}
	rec := &retryRecord{
		priority: p,
		events:   events,
		nextAt:   e.clock.Now().Add(backoff(e.cfg.RetryInterval, 0)),
	}
	e.retries = append(e.retries, rec)
	return rec
}

// retryTick resends every idle record whose retry time has come. Records that
// have used up their retry budget are dropped.
func (e *Engine) retryTick() int {
	now := e.clock.Now()

	e.mu.Lock()
	var due, expired []*retryRecord
	keep := e.retries[:0]
	for _, r := range e.retries {
		if r.sending || r.nextAt.After(now) {
			keep = append(keep, r)
			continue
		}
		r.attempts++
		if r.attempts > e.retryBudget() {
			expired = append(expired, r)
			continue
		}
		r.sending = true
		due = append(due, r)
		keep = append(keep, r)
	}
	for i := len(keep); i < len(e.retries); i++ {
		e.retries[i] = nil
	}
	e.retries = keep
	e.mu.Unlock()

	for _, r := range expired {
		e.drop(r.events, fmt.Errorf("retry budget exhausted after %d attempts", r.attempts-1))
	}
	for _, r := range due {
		e.metrics.retried.Add(1)
		e.dispatchRetry(r)
	}
	return len(due)
}

func (e *Engine) dispatchRetry(r *retryRecord) {
	e.pending.Add(1)
	e.inFlight.Add(1)
	go func() {
		defer e.pending.Done()
		defer e.inFlight.Add(-1)
		e.deliverRetry(r)
	}()
}

func (e *Engine) deliverRetry(r *retryRecord) {
	req, err := e.encode(r.events)
	if err != nil {
		e.mu.Lock()
		r.done = true
		e.removeRetryLocked(r)
		e.mu.Unlock()
		e.drop(r.events, err)
		return
	}

	start := e.clock.Now()
	strategy, err := e.transmit(context.Background(), req)
	e.notify(LifecycleEvent{
		Type:     EventSendDone,
		Strategy: strategy,
		Priority: r.priority,
		Events:   len(r.events),
		Attempt:  r.attempts,
		Duration: e.clock.Now().Sub(start),
		Err:      err,
	})

	e.mu.Lock()
	if err == nil {
		r.done = true
		e.removeRetryLocked(r)
		e.mu.Unlock()
		e.delivered(r.events, false)
		return
	}

	e.metrics.sendFailures.Add(1)
	if r.attempts >= e.retryBudget() {
		tracked := e.removeRetryLocked(r)
		if tracked {
			r.done = true
		}
		e.mu.Unlock()
		if tracked {
			e.drop(r.events, fmt.Errorf("retry budget exhausted after %d attempts: %w", r.attempts, err))
		}
		return
	}
	attempt := r.attempts
	r.nextAt = e.clock.Now().Add(backoff(e.cfg.RetryInterval, attempt))
	nextAt := r.nextAt
	r.sending = false
	e.mu.Unlock()

	if e.cfg.Debug {
		e.logger.Debug().
			Err(err).
			Str("attempt", strconv.Itoa(attempt)).
			Str("next_at", nextAt.Format(time.RFC3339Nano)).
			Msg("xbeacon: retry failed, rescheduled")
	}
	e.notify(LifecycleEvent{Type: EventRetryScheduled, Priority: r.priority, Events: len(r.events), Attempt: attempt, Err: err})
}

// removeRetryLocked deletes r from the retry set. It reports false when r was
// already removed, e.g. by a teardown beacon.
func (e *Engine) removeRetryLocked(r *retryRecord) bool {
	for i, x := range e.retries {
		if x == r {
			e.retries = append(e.retries[:i], e.retries[i+1:]...)
			return true
		}
	}
	return false
}
