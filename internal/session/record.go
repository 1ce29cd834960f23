package session

import (
	"time"

	"github.com/masasibata/t-one-rest-api/internal/recognizer"
)

// Status describes the lifecycle stage of a session record.
type Status string

const (
	// StatusActive marks a session accepting chunk mutations.
	StatusActive Status = "active"

	// StatusFinalizing marks a session whose closing flush is in progress.
	// It is only ever observed in flight: finalize deletes the record
	// instead of writing this status back, so a crash mid-finalize leaves
	// the record active for the idle sweep.
	StatusFinalizing Status = "finalizing"

	// StatusTerminated is the conceptual end state. Terminated records are
	// physically removed and never returned by reads.
	StatusTerminated Status = "terminated"
)

// Record is the persisted unit of one streaming transcription session.
type Record struct {
	// ID is the caller-facing session identifier, immutable after creation.
	ID string `json:"id"`

	// Sequence increments by exactly one per accepted chunk mutation and
	// versions the record for optimistic concurrency control.
	Sequence uint64 `json:"sequence"`

	// EngineState is the recognizer's serialized streaming state. It is
	// opaque at this layer: stores and the manager carry it, never parse it.
	EngineState []byte `json:"engine_state,omitempty"`

	// Phrases accumulates recognized phrases in accepted-mutation order.
	// It only ever grows until the session is finalized.
	Phrases []recognizer.Phrase `json:"phrases"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Status       Status    `json:"status"`
}

// Clone returns a deep copy so store internals are never aliased by callers.
func (r *Record) Clone() *Record {
	clone := *r

	if r.EngineState != nil {
		clone.EngineState = make([]byte, len(r.EngineState))
		copy(clone.EngineState, r.EngineState)
	}

	clone.Phrases = make([]recognizer.Phrase, len(r.Phrases))
	copy(clone.Phrases, r.Phrases)

	return &clone
}
