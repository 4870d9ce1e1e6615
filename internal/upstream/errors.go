package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized reports a 401 that survived the single forced
// re-authentication retry. Callers must not retry further.
var ErrUnauthorized = errors.New("upstream rejected authorization after retry")

// Error is a non-2xx upstream response normalized to one shape.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Message)
}

// TransportError wraps network and decode failures so callers can distinguish
// them from upstream-reported errors.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorMessage extracts a human-readable message from an upstream error body.
// Snapshots of the API disagree on the field name, so all known shapes are
// tried before falling back to the raw body.
func ErrorMessage(body []byte) string {
	var payload struct {
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
		Err              struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.ErrorDescription != "":
			return payload.ErrorDescription
		case payload.Message != "":
			return payload.Message
		case payload.Err.Message != "":
			return payload.Err.Message
		}
	}
	return strings.TrimSpace(string(body))
}
