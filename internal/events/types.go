package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StateUnauthenticated = "unauthenticated"
	StateAuthenticated   = "authenticated"
	StateEnabled         = "enabled"
	StateClosed          = "closed"
	StateError           = "error"
)

// Event is a session state change for one device.
type Event struct {
	Device    string    `json:"device"`
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state"`
	TS        time.Time `json:"ts"`
	Message   string    `json:"message,omitempty"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Device) == "" {
		return fmt.Errorf("device is required")
	}
	if !isValidState(e.State) {
		return fmt.Errorf("invalid state %q", e.State)
	}
	if e.SessionID != "" {
		if _, err := uuid.Parse(e.SessionID); err != nil {
			return fmt.Errorf("invalid session id %q: %w", e.SessionID, err)
		}
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// IsReadyState reports whether a session in state can run commands.
func IsReadyState(state string) bool {
	return state == StateAuthenticated || state == StateEnabled
}

// IsFailureState reports whether state needs operator attention.
func IsFailureState(state string) bool {
	return state == StateError
}

func isValidState(state string) bool {
	switch state {
	case StateUnauthenticated, StateAuthenticated, StateEnabled, StateClosed, StateError:
		return true
	default:
		return false
	}
}
