package recognizer

import "context"

// Phrase is a fragment of recognized speech with its time span in seconds
// relative to the start of the session audio.
type Phrase struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// MergePhrases appends flushed phrases to a transcript, dropping any whose
// time span was already emitted. The engine re-emits the refined final
// partial on flush; its span matches the chunk that first produced it.
func MergePhrases(existing []Phrase, flushed []Phrase) []Phrase {
	seen := make(map[[2]float64]struct{}, len(existing))
	for _, p := range existing {
		seen[[2]float64{p.StartTime, p.EndTime}] = struct{}{}
	}

	for _, p := range flushed {
		key := [2]float64{p.StartTime, p.EndTime}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		existing = append(existing, p)
	}

	return existing
}

// Engine is the recognition engine contract consumed by the session manager.
// State blobs are opaque to callers: they are produced by the engine, carried
// between calls, and never inspected outside this package.
type Engine interface {
	// Init returns a fresh engine state for a new recognition stream.
	Init(ctx context.Context) ([]byte, error)

	// Process feeds an audio chunk through the engine, advancing the given
	// state. It returns the advanced state and the phrases recognized from
	// this chunk. A nil or empty state starts a new stream.
	Process(ctx context.Context, state []byte, audio []byte) ([]byte, []Phrase, error)

	// Flush drains phrases still buffered inside the engine state.
	Flush(ctx context.Context, state []byte) ([]Phrase, error)

	// Close releases resources and waits for in-flight work to finish.
	Close() error
}
