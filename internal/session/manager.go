package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/masasibata/t-one-rest-api/internal/recognizer"
)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	LeaseTimeout time.Duration
}

// Manager drives the streaming transcription flow. Each request claims the
// session's lease, threads the stored engine state through the recognition
// engine and writes the advanced state back, so stateless HTTP handlers can
// serve one logical stream across many requests.
type Manager struct {
	store        Store
	engine       recognizer.Engine
	logger       *slog.Logger
	leaseTimeout time.Duration
}

// NewManager creates a session manager on top of the given store and engine.
func NewManager(store Store, engine recognizer.Engine, logger *slog.Logger, config ManagerConfig) *Manager {
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = 30 * time.Second
	}

	return &Manager{
		store:        store,
		engine:       engine,
		logger:       logger,
		leaseTimeout: config.LeaseTimeout,
	}
}

// Create starts a new streaming session and returns its id.
func (m *Manager) Create(ctx context.Context) (string, error) {
	rec, err := m.store.Create(ctx)
	if err != nil {
		return "", err
	}

	m.logger.Info("Created streaming session",
		slog.String("session_id", rec.ID),
	)

	return rec.ID, nil
}

// Chunk feeds one audio chunk through the session's recognition state and
// returns the phrases finalized by this chunk alone. A concurrent request
// on the same session fails fast with ErrBusy.
func (m *Manager) Chunk(ctx context.Context, id string, audio []byte) ([]recognizer.Phrase, error) {
	lease, err := m.store.AcquireLease(ctx, id, m.leaseTimeout)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			m.logger.Debug("Session busy, rejecting chunk",
				slog.String("session_id", id),
			)
		}
		return nil, err
	}

	rec, err := m.store.Read(ctx, id, lease)
	if err != nil {
		m.releaseLease(ctx, id, lease)
		return nil, err
	}

	newState, phrases, err := m.engine.Process(ctx, rec.EngineState, audio)
	if err != nil {
		// Release without writing so the stored state stays at the last
		// good chunk and the client can retry.
		m.releaseLease(ctx, id, lease)
		m.logger.Error("Recognition engine failed to process chunk",
			slog.String("session_id", id),
			slog.Uint64("sequence", rec.Sequence),
			slog.Int("audio_bytes", len(audio)),
			slog.String("error", err.Error()),
		)
		return nil, &RecognizerError{Err: err}
	}

	rec.EngineState = newState
	rec.Phrases = append(rec.Phrases, phrases...)
	rec.Sequence++
	rec.LastActiveAt = time.Now()

	if err := m.store.Write(ctx, rec, lease); err != nil {
		if errors.Is(err, ErrLeaseInvalid) || errors.Is(err, ErrStaleSequence) {
			m.logger.Error("Session mutated under an expired lease, discarding chunk result",
				slog.String("session_id", id),
				slog.Uint64("sequence", rec.Sequence),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return nil, err
	}

	m.logger.Debug("Applied audio chunk",
		slog.String("session_id", id),
		slog.Uint64("sequence", rec.Sequence),
		slog.Int("audio_bytes", len(audio)),
		slog.Int("new_phrases", len(phrases)),
	)

	return phrases, nil
}

// Finalize flushes any audio still buffered inside the engine state,
// removes the session and returns the full transcript. When the flush
// itself fails the phrases accumulated so far are still returned together
// with the wrapped engine error.
func (m *Manager) Finalize(ctx context.Context, id string) ([]recognizer.Phrase, error) {
	lease, err := m.store.AcquireLease(ctx, id, m.leaseTimeout)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			m.logger.Debug("Session busy, rejecting finalize",
				slog.String("session_id", id),
			)
		}
		return nil, err
	}

	rec, err := m.store.Read(ctx, id, lease)
	if err != nil {
		m.releaseLease(ctx, id, lease)
		return nil, err
	}

	rec.Status = StatusFinalizing

	var flushErr error
	if len(rec.EngineState) > 0 {
		final, err := m.engine.Flush(ctx, rec.EngineState)
		if err != nil {
			flushErr = &RecognizerError{Err: err}
			m.logger.Error("Recognition engine failed to flush session",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		} else {
			rec.Phrases = recognizer.MergePhrases(rec.Phrases, final)
		}
	}

	if err := m.store.Delete(ctx, id); err != nil {
		m.releaseLease(ctx, id, lease)
		return nil, err
	}

	m.logger.Info("Finalized streaming session",
		slog.String("session_id", id),
		slog.Uint64("chunks_applied", rec.Sequence),
		slog.Int("total_phrases", len(rec.Phrases)),
		slog.Duration("session_duration", time.Since(rec.CreatedAt)),
	)

	return rec.Phrases, flushErr
}

// ActiveSessions reports how many sessions the store currently holds.
func (m *Manager) ActiveSessions(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// releaseLease returns a lease without writing, logging any failure since
// callers are already on an error path.
func (m *Manager) releaseLease(ctx context.Context, id string, lease LeaseToken) {
	if err := m.store.ReleaseLease(ctx, id, lease); err != nil {
		m.logger.Warn("Failed to release session lease",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}
}
