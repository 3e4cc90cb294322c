package control

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Actions understood by the runner control channel.
const (
	// ActionCancel asks the active runner to stop after the in-flight source.
	ActionCancel = "cancel"
	// ActionWake nudges the daemon drain loop to check the queue immediately.
	ActionWake = "wake"
)

// ErrBusClosed is returned when publishing to or subscribing on a closed bus.
var ErrBusClosed = errors.New("control: bus closed")

// Message is a single control broadcast. SessionID identifies the sending
// process so receivers can tell their own broadcasts from remote ones.
type Message struct {
	Action    string    `json:"action"`
	SessionID string    `json:"session_id,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// NewMessage stamps a message with the current time.
func NewMessage(action, sessionID string) Message {
	return Message{
		Action:    action,
		SessionID: sessionID,
		SentAt:    time.Now().UTC(),
	}
}

// Valid reports whether the message carries a known action.
func (m Message) Valid() bool {
	switch m.Action {
	case ActionCancel, ActionWake:
		return true
	default:
		return false
	}
}

// NewSessionID mints an identifier for one CLI or daemon process.
func NewSessionID() string {
	return uuid.NewString()
}

// Bus fans control messages out to local subscribers.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context) (*Subscription, error)
	Close() error
}

// Subscription delivers bus messages on C until Cancel is called or the bus
// closes, at which point C is closed.
type Subscription struct {
	C      <-chan Message
	cancel func()
}

// Cancel detaches the subscription from its bus. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}
