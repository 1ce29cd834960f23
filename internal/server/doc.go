// Package server implements the HTTP REST API for streaming and whole-file
// transcription. It maps session and engine errors onto status codes and
// provides monitoring/management endpoints alongside the transcription ones.
package server
