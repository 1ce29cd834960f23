package session

import (
	"context"
	"errors"
	"time"
)

// LeaseToken grants temporary exclusive write access to one session record.
// Tokens are opaque and short-lived: Write and Delete invalidate them, and
// expiry invalidates them everywhere even if the holder never returns.
type LeaseToken string

// Store errors shared by all backends. Callers match them with errors.Is.
var (
	// ErrNotFound means no record exists under the requested id.
	ErrNotFound = errors.New("session not found")

	// ErrBusy means another caller currently holds the record's lease.
	// It is transient; the caller owns retry policy.
	ErrBusy = errors.New("session busy")

	// ErrLeaseInvalid means the presented lease token does not match the
	// record's current lease, typically because it expired and was reclaimed.
	ErrLeaseInvalid = errors.New("session lease invalid")

	// ErrStaleSequence means a write carried an outdated sequence: the
	// record changed under a caller whose lease lapsed.
	ErrStaleSequence = errors.New("session sequence stale")

	// ErrUnavailable means the backing store could not be reached.
	ErrUnavailable = errors.New("session store unavailable")
)

// Store persists session records and serializes access to them through
// expiring leases. Implementations must be safe for concurrent use, and
// calls touching different ids must never block each other.
type Store interface {
	// Create allocates a new active record with a fresh id and returns it.
	Create(ctx context.Context) (*Record, error)

	// AcquireLease claims exclusive write access to a record for at most
	// ttl. It never blocks on contention: a held lease fails with ErrBusy
	// immediately. An expired lease counts as absent and is reclaimed.
	AcquireLease(ctx context.Context, id string, ttl time.Duration) (LeaseToken, error)

	// Read returns a copy of the record. The lease must still be valid.
	Read(ctx context.Context, id string, lease LeaseToken) (*Record, error)

	// Write atomically persists the record and releases the lease. The
	// incoming sequence must be exactly one above the stored sequence,
	// otherwise the write fails with ErrStaleSequence.
	Write(ctx context.Context, rec *Record, lease LeaseToken) error

	// ReleaseLease gives up a lease without writing. Releasing a lease
	// that is no longer held is not an error.
	ReleaseLease(ctx context.Context, id string, lease LeaseToken) error

	// Delete removes the record and any lease on it, regardless of holder.
	// Deleting an absent record is not an error.
	Delete(ctx context.Context, id string) error

	// Sweep deletes active records idle longer than the store's idle
	// timeout, measuring idleness against now. Records under a currently
	// valid lease are never deleted. Expired leases encountered along the
	// way are reclaimed. Returns the number of records deleted.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Count returns the number of records currently stored.
	Count(ctx context.Context) (int, error)

	// Close stops background work. The store must not be used afterwards.
	Close() error
}
