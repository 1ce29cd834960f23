package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/masasibata/t-one-rest-api/internal/recognizer"
)

// memoryEntry holds one session record together with its lease state.
// The entry mutex guards both; the store map mutex only guards membership.
type memoryEntry struct {
	mu            sync.Mutex
	record        *Record
	leaseToken    LeaseToken
	leaseDeadline time.Time
}

// leased reports whether the entry holds a lease still valid at now.
func (e *memoryEntry) leased(now time.Time) bool {
	return e.leaseToken != "" && now.Before(e.leaseDeadline)
}

// MemoryStoreConfig contains configuration for the in-memory session store
type MemoryStoreConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// MemoryStore keeps session records in process memory. It is the default
// backend for single-instance deployments; records do not survive restarts.
type MemoryStore struct {
	entries map[string]*memoryEntry
	mu      sync.RWMutex
	logger  *slog.Logger

	idleTimeout   time.Duration
	sweepInterval time.Duration

	// Sweep management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory session store and starts its
// background sweep routine.
func NewMemoryStore(logger *slog.Logger, config MemoryStoreConfig) *MemoryStore {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = time.Hour
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &MemoryStore{
		entries:       make(map[string]*memoryEntry),
		logger:        logger,
		idleTimeout:   config.IdleTimeout,
		sweepInterval: config.SweepInterval,
		ctx:           ctx,
		cancel:        cancel,
		cleanup:       make(chan struct{}),
	}

	// Start sweep goroutine
	go s.startSweepRoutine()

	return s
}

// Create allocates a new active session record with a fresh id.
func (s *MemoryStore) Create(ctx context.Context) (*Record, error) {
	now := time.Now()
	rec := &Record{
		ID:           uuid.NewString(),
		Sequence:     0,
		Phrases:      make([]recognizer.Phrase, 0),
		CreatedAt:    now,
		LastActiveAt: now,
		Status:       StatusActive,
	}

	s.mu.Lock()
	s.entries[rec.ID] = &memoryEntry{record: rec}
	s.mu.Unlock()

	return rec.Clone(), nil
}

// AcquireLease claims exclusive access to the record for at most ttl.
func (s *MemoryStore) AcquireLease(ctx context.Context, id string, ttl time.Duration) (LeaseToken, error) {
	s.mu.RLock()
	entry, exists := s.entries[id]
	s.mu.RUnlock()

	if !exists {
		return "", ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := time.Now()
	if entry.leased(now) {
		return "", ErrBusy
	}

	if entry.leaseToken != "" {
		s.logger.Warn("Reclaiming expired session lease",
			slog.String("session_id", id),
			slog.Duration("expired_for", now.Sub(entry.leaseDeadline)),
		)
	}

	token := LeaseToken(uuid.NewString())
	entry.leaseToken = token
	entry.leaseDeadline = now.Add(ttl)

	return token, nil
}

// Read returns a copy of the record. The lease must still be valid.
func (s *MemoryStore) Read(ctx context.Context, id string, lease LeaseToken) (*Record, error) {
	s.mu.RLock()
	entry, exists := s.entries[id]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.leaseToken != lease || !time.Now().Before(entry.leaseDeadline) {
		return nil, ErrLeaseInvalid
	}

	return entry.record.Clone(), nil
}

// Write persists the record and releases the lease in one step.
func (s *MemoryStore) Write(ctx context.Context, rec *Record, lease LeaseToken) error {
	s.mu.RLock()
	entry, exists := s.entries[rec.ID]
	s.mu.RUnlock()

	if !exists {
		return ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.leaseToken != lease || !time.Now().Before(entry.leaseDeadline) {
		return ErrLeaseInvalid
	}

	if rec.Sequence != entry.record.Sequence+1 {
		return ErrStaleSequence
	}

	entry.record = rec.Clone()
	entry.leaseToken = ""
	entry.leaseDeadline = time.Time{}

	return nil
}

// ReleaseLease gives the lease up without writing.
func (s *MemoryStore) ReleaseLease(ctx context.Context, id string, lease LeaseToken) error {
	s.mu.RLock()
	entry, exists := s.entries[id]
	s.mu.RUnlock()

	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.leaseToken == lease {
		entry.leaseToken = ""
		entry.leaseDeadline = time.Time{}
	}

	return nil
}

// Delete removes the record and any lease on it.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Count returns the number of records currently stored.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Sweep removes records idle longer than the idle timeout as of now.
// Lease validity is always judged against the wall clock, so a record
// under a live lease survives even when now is far in the future.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	idle := make([]string, 0)

	// Snapshot entries so lease reclamation does not hold the map lock
	s.mu.RLock()
	snapshot := make(map[string]*memoryEntry, len(s.entries))
	for id, entry := range s.entries {
		snapshot[id] = entry
	}
	s.mu.RUnlock()

	wallNow := time.Now()
	for id, entry := range snapshot {
		entry.mu.Lock()
		if entry.leaseToken != "" && !wallNow.Before(entry.leaseDeadline) {
			s.logger.Warn("Reclaiming abandoned session lease",
				slog.String("session_id", id),
				slog.Duration("expired_for", wallNow.Sub(entry.leaseDeadline)),
			)
			entry.leaseToken = ""
			entry.leaseDeadline = time.Time{}
		}
		if entry.record.Status == StatusActive &&
			now.Sub(entry.record.LastActiveAt) > s.idleTimeout &&
			!entry.leased(wallNow) {
			idle = append(idle, id)
		}
		entry.mu.Unlock()
	}

	if len(idle) == 0 {
		return 0, nil
	}

	// Recheck under both locks before deleting: a session may have been
	// touched or leased since the scan.
	swept := 0
	wallNow = time.Now()

	s.mu.Lock()
	for _, id := range idle {
		entry, exists := s.entries[id]
		if !exists {
			continue
		}
		entry.mu.Lock()
		if !entry.leased(wallNow) && now.Sub(entry.record.LastActiveAt) > s.idleTimeout {
			delete(s.entries, id)
			swept++
		}
		entry.mu.Unlock()
	}
	s.mu.Unlock()

	if swept > 0 {
		s.logger.Info("Swept idle sessions",
			slog.Int("swept_count", swept),
			slog.Duration("idle_timeout", s.idleTimeout),
		)
	}

	return swept, nil
}

// Close stops the sweep routine. Records are discarded with the process.
func (s *MemoryStore) Close() error {
	s.cancel()
	<-s.cleanup
	return nil
}

// startSweepRoutine runs in a separate goroutine to expire idle sessions
func (s *MemoryStore) startSweepRoutine() {
	defer close(s.cleanup)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Info("Session sweep routine started",
		slog.String("backend", "memory"),
		slog.Duration("idle_timeout", s.idleTimeout),
		slog.Duration("sweep_interval", s.sweepInterval),
	)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Session sweep routine stopping",
				slog.String("backend", "memory"),
			)
			return

		case <-ticker.C:
			if _, err := s.Sweep(s.ctx, time.Now()); err != nil {
				s.logger.Warn("Session sweep failed",
					slog.String("backend", "memory"),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
