package detect

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"warden/core"
	"warden/metrics"
	"warden/util/goroutine"

	"go.uber.org/zap"
)

// windowEntry is one point in a (sourceID, category) time series.
type windowEntry struct {
	id string
	ts time.Time
}

// storeShard holds a slice of the detection map and the windowed index for the
// keys hashed onto it. Each shard locks independently so writes and windowed
// reads for unrelated sources never contend.
type storeShard struct {
	mu         sync.RWMutex
	detections map[string]*core.Detection
	// byKey is a time-ordered series per "sourceID|category" key, trimmed
	// lazily on insert and count.
	byKey map[string][]windowEntry
}

// Store is the TTL-bounded in-memory detection store. Detections are kept for
// the retention TTL and evicted by a periodic sweep; the sweep defers to
// readers and writers, never the converse.
type Store struct {
	shards        []*storeShard
	retentionTTL  time.Duration
	sweepInterval time.Duration
	logger        *zap.SugaredLogger

	sweepCancel context.CancelFunc
	sweepWg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewStore creates a store with the given shard count and retention settings.
func NewStore(shards int, retentionTTL, sweepInterval time.Duration, logger *zap.SugaredLogger) *Store {
	if shards < 1 {
		shards = 1
	}
	s := &Store{
		shards:        make([]*storeShard, shards),
		retentionTTL:  retentionTTL,
		sweepInterval: sweepInterval,
		logger:        logger,
	}
	for i := range s.shards {
		s.shards[i] = &storeShard{
			detections: make(map[string]*core.Detection),
			byKey:      make(map[string][]windowEntry),
		}
	}
	return s
}

func windowKey(sourceID string, category core.Category) string {
	return sourceID + "|" + string(category)
}

func (s *Store) shardFor(key string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Insert stores a new detection. The detection is cloned so later mutation by
// the caller cannot race with readers.
func (s *Store) Insert(d *core.Detection) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.ErrStoreClosed
	}
	s.mu.Unlock()

	if d == nil || d.ID == "" {
		return &core.StoreWriteError{DetectionID: "", Err: core.ErrDetectionNotFound}
	}

	key := windowKey(d.SourceID, d.Category)
	shard := s.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.detections[d.ID] = d.Clone()

	entries := shard.byKey[key]
	// Maintain timestamp order; submissions may arrive out of order.
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].ts.After(d.Timestamp)
	})
	entries = append(entries, windowEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = windowEntry{id: d.ID, ts: d.Timestamp}
	shard.byKey[key] = s.trimExpired(entries)

	metrics.StoredDetections.Inc()
	return nil
}

// trimExpired drops entries older than the retention TTL from the front of a
// time-ordered series.
func (s *Store) trimExpired(entries []windowEntry) []windowEntry {
	cutoff := time.Now().Add(-s.retentionTTL)
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].ts.After(cutoff)
	})
	return entries[idx:]
}

// Get returns a clone of the detection with the given ID.
func (s *Store) Get(id string) (*core.Detection, error) {
	for _, shard := range s.shards {
		shard.mu.RLock()
		if d, ok := shard.detections[id]; ok {
			clone := d.Clone()
			shard.mu.RUnlock()
			return clone, nil
		}
		shard.mu.RUnlock()
	}
	return nil, core.ErrDetectionNotFound
}

// CountWindow counts detections for (sourceID, category) with timestamps in
// the trailing window ending at now. The per-key series is time-ordered, so
// the count is a binary search rather than a scan of the whole store.
func (s *Store) CountWindow(sourceID string, category core.Category, window time.Duration, now time.Time) int {
	if window <= 0 {
		return 0
	}
	key := windowKey(sourceID, category)
	shard := s.shardFor(key)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entries := shard.byKey[key]
	windowStart := now.Add(-window)
	idx := sort.Search(len(entries), func(i int) bool {
		return !entries[i].ts.Before(windowStart)
	})
	count := 0
	for _, e := range entries[idx:] {
		if !e.ts.After(now) {
			count++
		}
	}
	return count
}

// AppendActions appends applied actions to a stored detection, preserving
// application order. The append is the only mutation of a stored detection
// besides status transitions.
func (s *Store) AppendActions(id string, actions []core.Action) error {
	if len(actions) == 0 {
		return nil
	}
	for _, shard := range s.shards {
		shard.mu.Lock()
		if d, ok := shard.detections[id]; ok {
			d.AppliedActions = append(d.AppliedActions, actions...)
			shard.mu.Unlock()
			return nil
		}
		shard.mu.Unlock()
	}
	return core.ErrDetectionNotFound
}

// UpdateStatus transitions a stored detection's status.
func (s *Store) UpdateStatus(id string, status core.DetectionStatus) error {
	for _, shard := range s.shards {
		shard.mu.Lock()
		if d, ok := shard.detections[id]; ok {
			err := d.TransitionTo(status)
			shard.mu.Unlock()
			return err
		}
		shard.mu.Unlock()
	}
	return core.ErrDetectionNotFound
}

// Size returns the number of retained detections.
func (s *Store) Size() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.detections)
		shard.mu.RUnlock()
	}
	return total
}

// StartSweep launches the periodic retention sweep. The sweep stops when ctx
// is cancelled or Close is called.
func (s *Store) StartSweep(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.sweepCancel = cancel
	s.mu.Unlock()

	s.sweepWg.Add(1)
	go func() {
		defer s.sweepWg.Done()
		defer goroutine.Recover("store-sweep", s.logger)

		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Retention sweep stopped")
				return
			case <-ticker.C:
				s.Sweep(time.Now())
			}
		}
	}()
}

// Sweep evicts detections older than the retention TTL. Contended shards are
// skipped and picked up on the next tick; eviction promptness is sacrificed
// before read/write availability.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.retentionTTL)
	evicted := 0

	for _, shard := range s.shards {
		if !shard.mu.TryLock() {
			continue
		}
		for id, d := range shard.detections {
			if d.Timestamp.Before(cutoff) {
				delete(shard.detections, id)
				evicted++
			}
		}
		for key, entries := range shard.byKey {
			trimmed := s.trimExpired(entries)
			if len(trimmed) == 0 {
				delete(shard.byKey, key)
			} else {
				shard.byKey[key] = trimmed
			}
		}
		shard.mu.Unlock()
	}

	if evicted > 0 {
		metrics.StoredDetections.Sub(float64(evicted))
		metrics.SweepEvictions.Add(float64(evicted))
		s.logger.Infow("Retention sweep evicted detections", "count", evicted)
	}
	return evicted
}

// Close stops the sweep and marks the store closed for new writes. Reads of
// already-stored detections keep working during shutdown.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.sweepCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.sweepWg.Wait()
}
