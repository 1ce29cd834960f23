// Package session implements streaming transcription sessions: the record
// model, the store contract with lease-based concurrency control, memory
// and redis backed store implementations, and the manager that applies
// audio chunks through the recognition engine.
package session
