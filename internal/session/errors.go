package session

import (
	"errors"
	"fmt"
)

// ErrConflict means the manager detected that a session mutated while a
// request believed it held exclusive access. The offending result was
// discarded; the session itself is still usable.
var ErrConflict = errors.New("session conflict")

// RecognizerError wraps failures from the recognition engine so that
// callers can tell engine trouble apart from session state trouble.
type RecognizerError struct {
	Err error
}

func (e *RecognizerError) Error() string {
	return fmt.Sprintf("recognizer failure: %v", e.Err)
}

func (e *RecognizerError) Unwrap() error {
	return e.Err
}
