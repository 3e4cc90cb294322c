package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"runq/internal/logging"
)

// maxLineBytes bounds a single control message on the wire.
const maxLineBytes = 64 * 1024

// Hub bridges a Unix domain socket onto a local bus. Each line received on
// the socket is decoded as one Message and published locally, which is how
// other runq sessions reach the runner that owns the socket.
type Hub struct {
	path     string
	bus      Bus
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewHub binds the socket at path, replacing any stale socket file left by a
// previous process.
func NewHub(ctx context.Context, path string, bus Bus, logger *slog.Logger) (*Hub, error) {
	if bus == nil {
		return nil, errors.New("control hub requires a bus")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on control socket: %w", err)
	}

	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		path:     path,
		bus:      bus,
		logger:   logging.NewComponentLogger(logger, "control"),
		listener: listener,
		ctx:      hubCtx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the socket the hub is listening on.
func (h *Hub) Path() string {
	return h.path
}

// Serve starts accepting connections until the context is cancelled or Close
// is called.
func (h *Hub) Serve() {
	h.logger.Debug("control hub listening", logging.String("socket", h.path))
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			conn, err := h.listener.Accept()
			if err != nil {
				select {
				case <-h.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				h.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "control_accept_failed"),
					logging.String(logging.FieldImpact, "cancel and wake broadcasts may not reach the runner"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the runner if needed"))
				continue
			}
			h.track(conn)
			h.wg.Add(1)
			go func(c net.Conn) {
				defer h.wg.Done()
				h.serveConn(c)
			}(conn)
		}
	}()
}

// Close stops the hub and removes the socket file.
func (h *Hub) Close() {
	h.cancel()
	if h.listener != nil {
		_ = h.listener.Close()
	}
	h.mu.Lock()
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.logger.Warn("failed to remove control socket", logging.Error(err))
	}
}

func (h *Hub) track(conn net.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) drop(conn net.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Hub) serveConn(conn net.Conn) {
	defer h.drop(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			h.logger.Warn("discarding malformed control message", logging.Error(err))
			continue
		}
		if !msg.Valid() {
			h.logger.Warn("discarding unknown control action", logging.String("action", msg.Action))
			continue
		}
		h.logger.Debug("received control message",
			logging.String("action", msg.Action),
			logging.String("session_id", msg.SessionID),
		)
		if err := h.bus.Publish(h.ctx, msg); err != nil {
			return
		}
	}
}
