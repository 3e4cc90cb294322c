package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const (
	dialTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
)

// Broadcast dials the control socket and sends a single message. A failure to
// dial means no runner is listening, which callers surface to the user rather
// than treat as fatal.
func Broadcast(path string, msg Message) error {
	if !msg.Valid() {
		return fmt.Errorf("control: unknown action %q", msg.Action)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return fmt.Errorf("control: dial %s: %w", path, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("control: encode message: %w", err)
	}
	payload = append(payload, '\n')

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("control: send message: %w", err)
	}
	return nil
}

// Ping reports whether a control hub is accepting connections at path.
func Ping(path string) bool {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
