package xbeacon

import "sync/atomic"

// agentMetrics uses lock-free atomics shared by the Agent and its Engine.
type agentMetrics struct {
	reported      atomic.Uint64
	suppressed    atomic.Uint64
	sampledOut    atomic.Uint64
	enqueued      atomic.Uint64
	batchesSent   atomic.Uint64
	eventsSent    atomic.Uint64
	sendFailures  atomic.Uint64
	retried       atomic.Uint64
	dropped       atomic.Uint64
	forcedFlushes atomic.Uint64
	persisted     atomic.Uint64
	restored      atomic.Uint64
}

func (m *agentMetrics) snapshot() Metrics {
	return Metrics{
		Reported:      m.reported.Load(),
		Suppressed:    m.suppressed.Load(),
		SampledOut:    m.sampledOut.Load(),
		Enqueued:      m.enqueued.Load(),
		BatchesSent:   m.batchesSent.Load(),
		EventsSent:    m.eventsSent.Load(),
		SendFailures:  m.sendFailures.Load(),
		Retried:       m.retried.Load(),
		Dropped:       m.dropped.Load(),
		ForcedFlushes: m.forcedFlushes.Load(),
		Persisted:     m.persisted.Load(),
		Restored:      m.restored.Load(),
	}
}
