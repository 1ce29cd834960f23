package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/masasibata/t-one-rest-api/internal/recognizer"
)

// writeScript persists a record and releases its lease in one atomic step.
// It verifies the caller still owns the lease and that the stored sequence
// matches the expected previous value before overwriting.
//
// KEYS[1] lease key, KEYS[2] record key
// ARGV[1] lease token, ARGV[2] expected stored sequence,
// ARGV[3] new record JSON, ARGV[4] record TTL in milliseconds
var writeScript = redis.NewScript(`
local cur = redis.call("get", KEYS[2])
if cur == false then
	return -3
end
if redis.call("get", KEYS[1]) ~= ARGV[1] then
	return -1
end
local rec = cjson.decode(cur)
if tonumber(rec["sequence"]) ~= tonumber(ARGV[2]) then
	return -2
end
redis.call("set", KEYS[2], ARGV[3], "PX", ARGV[4])
redis.call("del", KEYS[1])
return 1
`)

// releaseScript deletes the lease key only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// sweepScript deletes an idle record in one atomic step. The sweep judged
// idleness on a value it read earlier, so the script re-checks that no lease
// has appeared since and that the record bytes are still the ones the scan
// saw; a lease acquired or a write landed in between voids the delete. The
// lease key goes with the record, as in Delete.
//
// KEYS[1] record key, KEYS[2] lease key
// ARGV[1] record value the scan read
var sweepScript = redis.NewScript(`
if redis.call("exists", KEYS[2]) == 1 then
	return 0
end
if redis.call("get", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("del", KEYS[1], KEYS[2])
return 1
`)

// RedisStoreConfig contains configuration for the redis session store
type RedisStoreConfig struct {
	URL           string
	KeyPrefix     string
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// RedisStore keeps session records in redis so multiple service instances
// can share them. Records live at {prefix}{id} and leases at
// {prefix}lease:{id}. Lease keys expire through their redis TTL, which is
// what invalidates a lapsed lease even before anyone reclaims it. Records
// carry a TTL equal to the idle timeout, refreshed on every write, so redis
// expires abandoned sessions even without a sweep.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger

	idleTimeout   time.Duration
	sweepInterval time.Duration

	// Sweep management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redis, verifies the connection and starts the
// background sweep routine.
func NewRedisStore(ctx context.Context, logger *slog.Logger, config RedisStoreConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "asr:session:"
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = time.Hour
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}

	sweepCtx, cancel := context.WithCancel(context.Background())

	s := &RedisStore{
		client:        client,
		keyPrefix:     config.KeyPrefix,
		logger:        logger,
		idleTimeout:   config.IdleTimeout,
		sweepInterval: config.SweepInterval,
		ctx:           sweepCtx,
		cancel:        cancel,
		cleanup:       make(chan struct{}),
	}

	// Start sweep goroutine
	go s.startSweepRoutine()

	return s, nil
}

func (s *RedisStore) recordKey(id string) string {
	return s.keyPrefix + id
}

func (s *RedisStore) leaseKey(id string) string {
	return s.keyPrefix + "lease:" + id
}

// wrapUnavailable marks a backend failure so callers can match ErrUnavailable.
func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Create allocates a new active session record with a fresh id.
func (s *RedisStore) Create(ctx context.Context) (*Record, error) {
	now := time.Now()
	rec := &Record{
		ID:           uuid.NewString(),
		Sequence:     0,
		Phrases:      make([]recognizer.Phrase, 0),
		CreatedAt:    now,
		LastActiveAt: now,
		Status:       StatusActive,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session record: %w", err)
	}

	if err := s.client.Set(ctx, s.recordKey(rec.ID), data, s.idleTimeout).Err(); err != nil {
		return nil, wrapUnavailable("create record", err)
	}

	return rec, nil
}

// AcquireLease claims exclusive access to the record for at most ttl.
// The lease key's own TTL enforces expiry server side.
func (s *RedisStore) AcquireLease(ctx context.Context, id string, ttl time.Duration) (LeaseToken, error) {
	exists, err := s.client.Exists(ctx, s.recordKey(id)).Result()
	if err != nil {
		return "", wrapUnavailable("check record", err)
	}
	if exists == 0 {
		return "", ErrNotFound
	}

	token := LeaseToken(uuid.NewString())
	ok, err := s.client.SetNX(ctx, s.leaseKey(id), string(token), ttl).Result()
	if err != nil {
		return "", wrapUnavailable("acquire lease", err)
	}
	if !ok {
		return "", ErrBusy
	}

	return token, nil
}

// Read returns the record. The lease must still be valid.
func (s *RedisStore) Read(ctx context.Context, id string, lease LeaseToken) (*Record, error) {
	held, err := s.client.Get(ctx, s.leaseKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		// Distinguish a lapsed lease from a deleted record, since Delete
		// removes the lease key along with the record.
		exists, eerr := s.client.Exists(ctx, s.recordKey(id)).Result()
		if eerr != nil {
			return nil, wrapUnavailable("check record", eerr)
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrLeaseInvalid
	} else if err != nil {
		return nil, wrapUnavailable("read lease", err)
	}
	if LeaseToken(held) != lease {
		return nil, ErrLeaseInvalid
	}

	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, wrapUnavailable("read record", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}

	return &rec, nil
}

// Write persists the record and releases the lease in one atomic step.
func (s *RedisStore) Write(ctx context.Context, rec *Record, lease LeaseToken) error {
	if rec.Sequence == 0 {
		return ErrStaleSequence
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	res, err := writeScript.Run(ctx, s.client,
		[]string{s.leaseKey(rec.ID), s.recordKey(rec.ID)},
		string(lease), rec.Sequence-1, data, s.idleTimeout.Milliseconds(),
	).Int()
	if err != nil {
		return wrapUnavailable("write record", err)
	}

	switch res {
	case 1:
		return nil
	case -1:
		return ErrLeaseInvalid
	case -2:
		return ErrStaleSequence
	case -3:
		return ErrNotFound
	default:
		return fmt.Errorf("unexpected write script result: %d", res)
	}
}

// ReleaseLease gives the lease up without writing.
func (s *RedisStore) ReleaseLease(ctx context.Context, id string, lease LeaseToken) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.leaseKey(id)}, string(lease)).Err(); err != nil {
		return wrapUnavailable("release lease", err)
	}
	return nil
}

// Delete removes the record and any lease on it.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.recordKey(id), s.leaseKey(id)).Err(); err != nil {
		return wrapUnavailable("delete record", err)
	}
	return nil
}

// Count returns the number of records currently stored.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := s.scanRecordKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// scanRecordKeys lists record keys under the store's prefix, skipping the
// lease keys that share it.
func (s *RedisStore) scanRecordKeys(ctx context.Context) ([]string, error) {
	leasePrefix := s.keyPrefix + "lease:"

	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, leasePrefix) {
			continue
		}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return nil, wrapUnavailable("scan records", err)
	}

	return keys, nil
}

// Sweep removes records idle longer than the idle timeout as of now. Redis
// TTLs already expire idle records on their own; the sweep covers records
// whose TTL was lost and gives operators a deletion count.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.scanRecordKeys(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and read
		} else if err != nil {
			return swept, wrapUnavailable("read record", err)
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("Skipping undecodable session record during sweep",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}

		if rec.Status != StatusActive || now.Sub(rec.LastActiveAt) <= s.idleTimeout {
			continue
		}

		// Never delete a record whose lease is alive, or one that changed
		// since the scan read it. The script makes both checks and the
		// delete one atomic step.
		res, err := sweepScript.Run(ctx, s.client,
			[]string{key, s.leaseKey(rec.ID)}, data,
		).Int()
		if err != nil {
			return swept, wrapUnavailable("sweep record", err)
		}
		swept += res
	}

	if swept > 0 {
		s.logger.Info("Swept idle sessions",
			slog.Int("swept_count", swept),
			slog.Duration("idle_timeout", s.idleTimeout),
		)
	}

	return swept, nil
}

// Close stops the sweep routine and closes the redis connection.
func (s *RedisStore) Close() error {
	s.cancel()
	<-s.cleanup
	return s.client.Close()
}

// startSweepRoutine runs in a separate goroutine to expire idle sessions
func (s *RedisStore) startSweepRoutine() {
	defer close(s.cleanup)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Info("Session sweep routine started",
		slog.String("backend", "redis"),
		slog.Duration("idle_timeout", s.idleTimeout),
		slog.Duration("sweep_interval", s.sweepInterval),
	)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Session sweep routine stopping",
				slog.String("backend", "redis"),
			)
			return

		case <-ticker.C:
			if _, err := s.Sweep(s.ctx, time.Now()); err != nil {
				s.logger.Warn("Session sweep failed",
					slog.String("backend", "redis"),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
