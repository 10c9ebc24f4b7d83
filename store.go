package xbeacon

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/trickstertwo/xlog"
)

// PersistentStore is the host's key/value persistence capability. Calls must
// be synchronous so a teardown can persist without waiting on anything else.
// Get returns ErrNotFound for a missing key; Set may return ErrQuotaExceeded.
type PersistentStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

const (
	queueKeySuffix     = ":queue"
	lastFlushKeySuffix = ":last_flush"
)

// QueueStore persists a snapshot of undelivered events under a fixed
// namespace. Every method degrades to false/empty when the underlying store
// is missing, full, failing or panicking.
type QueueStore struct {
	store    PersistentStore
	queueKey string
	flushKey string
	maxBytes int
	logger   *xlog.Logger
}

// NewQueueStore wraps store. A nil store yields a QueueStore whose methods
// are all no-ops.
func NewQueueStore(store PersistentStore, namespace string, maxBytes int, logger *xlog.Logger) *QueueStore {
	if namespace == "" {
		namespace = Defaults().Namespace
	}
	if logger == nil {
		logger = xlog.Default()
	}
	return &QueueStore{
		store:    store,
		queueKey: namespace + queueKeySuffix,
		flushKey: namespace + lastFlushKeySuffix,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Available reports whether a backing store is attached.
func (q *QueueStore) Available() bool { return q != nil && q.store != nil }

// Persist replaces the stored snapshot with events. It refuses snapshots
// whose encoding exceeds the byte cap. An empty slice clears the entry.
func (q *QueueStore) Persist(events []Event) (ok bool) {
	if !q.Available() {
		return false
	}
	defer q.guard("persist", &ok)

	if len(events) == 0 {
		return q.del(q.queueKey)
	}
	data, err := json.Marshal(events)
	if err != nil {
		q.logger.Warn().Err(err).Msg("xbeacon: encode queue snapshot failed")
		return false
	}
	if q.maxBytes > 0 && len(data) > q.maxBytes {
		q.logger.Warn().
			Str("size", strconv.Itoa(len(data))).
			Str("limit", strconv.Itoa(q.maxBytes)).
			Msg("xbeacon: queue snapshot exceeds persist limit, not stored")
		return false
	}
	if err := q.store.Set(q.queueKey, data); err != nil {
		q.logger.Warn().Err(err).Msg("xbeacon: persist queue snapshot failed")
		return false
	}
	return true
}

// Restore reads the stored snapshot. A corrupt entry is removed and an empty
// result returned.
func (q *QueueStore) Restore() (events []Event) {
	if !q.Available() {
		return nil
	}
	var ok bool
	defer q.guard("restore", &ok)

	data, err := q.store.Get(q.queueKey)
	if err != nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &events); err != nil {
		q.logger.Warn().Err(err).Msg("xbeacon: corrupt queue snapshot discarded")
		q.del(q.queueKey)
		return nil
	}
	return events
}

// Clear removes the stored snapshot.
func (q *QueueStore) Clear() (ok bool) {
	if !q.Available() {
		return false
	}
	defer q.guard("clear", &ok)
	return q.del(q.queueKey)
}

// RecordLastFlushTime stores ts as epoch milliseconds.
func (q *QueueStore) RecordLastFlushTime(ts time.Time) (ok bool) {
	if !q.Available() {
		return false
	}
	defer q.guard("record last flush", &ok)

	if err := q.store.Set(q.flushKey, []byte(strconv.FormatInt(ts.UnixMilli(), 10))); err != nil {
		return false
	}
	return true
}

// LastFlushTime returns the last recorded flush time, if any.
func (q *QueueStore) LastFlushTime() (ts time.Time, found bool) {
	if !q.Available() {
		return time.Time{}, false
	}
	defer q.guard("last flush", &found)

	data, err := q.store.Get(q.flushKey)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// InitialDelay returns how long to wait before the first batch tick so a
// restart mid-cycle keeps the previous cadence: interval − (now − last),
// clamped to [0, interval].
func (q *QueueStore) InitialDelay(now time.Time, interval time.Duration) time.Duration {
	last, ok := q.LastFlushTime()
	if !ok {
		return interval
	}
	remaining := interval - now.Sub(last)
	if remaining < 0 {
		return 0
	}
	if remaining > interval {
		return interval
	}
	return remaining
}

func (q *QueueStore) del(key string) bool {
	if err := q.store.Delete(key); err != nil {
		return false
	}
	return true
}

// guard turns a panicking store into a false result.
func (q *QueueStore) guard(op string, ok *bool) {
	if r := recover(); r != nil {
		q.logger.Warn().Err(fmt.Errorf("panic recovered: %v", r)).Str("op", op).Msg("xbeacon: persistent store failed")
		*ok = false
	}
}
