package xbeacon

import "time"

// handoff is a teardown snapshot given to the beacon. Until the beacon
// reports the outcome its events stay in the persisted snapshot, and a
// failure puts every piece back where it came from.
type handoff struct {
	events  []Event
	queued  [len(priorities)][]Event
	retries []*retryRecord
	flights []*flight
	settled bool
}

// Hide is the teardown path. It never waits on the network: everything
// pending, including batches still on the network, is written to the
// QueueStore and then handed to the beacon once. The stored copy is only
// released when the beacon confirms delivery.
func (e *Engine) Hide() {
	if e.beacon == nil {
		if n, ok := e.persist(); ok && n > 0 {
			e.persisted(n)
		}
		return
	}

	e.mu.Lock()
	h := e.handOffLocked()
	e.mu.Unlock()
	if h == nil {
		return
	}

	if n, ok := e.persist(); ok && n > 0 {
		e.persisted(n)
	}

	req, err := e.encode(h.events)
	if err != nil {
		e.reclaim(h, err)
		return
	}
	start := e.clock.Now()
	req.Done = func(err error) { e.handoffDone(h, start, err) }
	if !e.safeBeacon(req) {
		e.reclaim(h, nil)
	}
}

// handOffLocked empties the queues and the retry set into a new hand-off and
// marks running flights as covered by it. It returns nil when nothing is
// pending.
func (e *Engine) handOffLocked() *handoff {
	h := &handoff{queued: e.queues, retries: e.retries}
	for _, q := range h.queued {
		h.events = append(h.events, q...)
	}
	for _, r := range h.retries {
		h.events = append(h.events, r.events...)
	}
	for _, f := range e.flights {
		if f.handedOff {
			continue
		}
		h.flights = append(h.flights, f)
		h.events = append(h.events, f.events...)
	}
	if len(h.events) == 0 {
		return nil
	}

	e.queues = [len(priorities)][]Event{}
	e.retries = nil
	for _, f := range h.flights {
		f.handedOff = true
	}
	e.handoffs = append(e.handoffs, h)
	return h
}

func (e *Engine) handoffDone(h *handoff, start time.Time, err error) {
	if err != nil {
		e.reclaim(h, err)
		return
	}

	e.mu.Lock()
	if h.settled {
		e.mu.Unlock()
		return
	}
	h.settled = true
	e.removeHandoffLocked(h)
	e.mu.Unlock()

	e.notify(LifecycleEvent{
		Type:     EventSendDone,
		Strategy: strategyBeacon,
		Events:   len(h.events),
		Duration: e.clock.Now().Sub(start),
	})
	e.delivered(h.events, true)
}

// reclaim undoes a hand-off the beacon refused or failed to deliver. Queued
// events go back to the front of their sequences and retry records that are
// still unresolved rejoin the retry set. Flights that finished with an error
// while covered by the hand-off are retried now.
func (e *Engine) reclaim(h *handoff, cause error) {
	e.mu.Lock()
	if h.settled {
		e.mu.Unlock()
		return
	}
	h.settled = true
	e.removeHandoffLocked(h)

	for i := range e.queues {
		e.queues[i] = append(h.queued[i], e.queues[i]...)
	}
	for _, r := range h.retries {
		if !r.done {
			e.retries = append(e.retries, r)
		}
	}
	var lost [][]Event
	for _, f := range h.flights {
		switch {
		case !f.done:
			f.handedOff = false
		case f.err != nil:
			if e.retryLocked(f.priority, f.events) == nil {
				lost = append(lost, f.events)
			}
		}
	}
	e.mu.Unlock()

	if cause != nil {
		e.metrics.sendFailures.Add(1)
		e.notify(LifecycleEvent{Type: EventSendDone, Strategy: strategyBeacon, Events: len(h.events), Err: cause})
		if e.cfg.Debug {
			e.logger.Debug().Err(cause).Msg("xbeacon: teardown beacon failed, events requeued")
		}
	}
	for _, events := range lost {
		e.drop(events, errRetriesDisabled)
	}
	e.resync()
}

func (e *Engine) removeHandoffLocked(h *handoff) {
	for i, x := range e.handoffs {
		if x == h {
			e.handoffs = append(e.handoffs[:i], e.handoffs[i+1:]...)
			return
		}
	}
}

// persist writes the current snapshot to the QueueStore and reports how many
// events it holds. The snapshot is taken under mu; the write is not.
func (e *Engine) persist() (int, bool) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	if !e.store.Persist(snapshot) {
		return 0, false
	}
	e.stored.Store(len(snapshot) > 0)
	return len(snapshot), true
}

// resync rewrites the stored snapshot after deliveries or drops shrank the
// pending set. It does nothing while the store holds no snapshot.
func (e *Engine) resync() {
	if e.stored.Load() {
		e.persist()
	}
}

func (e *Engine) persisted(n int) {
	e.metrics.persisted.Add(uint64(n))
	e.notify(LifecycleEvent{Type: EventPersisted, Events: n})
}
