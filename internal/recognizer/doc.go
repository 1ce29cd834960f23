// Package recognizer implements the HTTP client for the T-one recognition
// engine and the versioned envelope carried around its streaming state.
// It handles multipart requests with audio chunks and serialized engine state,
// implements retry logic with exponential backoff, and manages rate limiting.
package recognizer
