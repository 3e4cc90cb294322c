package control_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"runq/internal/control"
	"runq/internal/logging"
)

func TestMemoryBusDeliversToAllSubscribers(t *testing.T) {
	bus := control.NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	first, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	second, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sent := control.NewMessage(control.ActionCancel, "session-1")
	if err := bus.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, sub := range []*control.Subscription{first, second} {
		select {
		case got := <-sub.C:
			if got.Action != control.ActionCancel || got.SessionID != "session-1" {
				t.Fatalf("received %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestMemoryBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := control.NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Publish more than the subscriber buffer without draining; the extras
	// must be dropped without blocking.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = bus.Publish(ctx, control.NewMessage(control.ActionWake, ""))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	received := 0
	for {
		select {
		case <-sub.C:
			received++
		default:
			if received == 0 {
				t.Fatal("no messages delivered")
			}
			if received >= 50 {
				t.Fatalf("received %d messages, expected drops", received)
			}
			return
		}
	}
}

func TestSubscriptionCancelClosesChannel(t *testing.T) {
	bus := control.NewMemoryBus()
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Cancel()
	sub.Cancel()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("received message on cancelled subscription")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Cancel")
	}

	if err := bus.Publish(context.Background(), control.NewMessage(control.ActionWake, "")); err != nil {
		t.Fatalf("Publish after cancel: %v", err)
	}
}

func TestClosedBusRejectsUse(t *testing.T) {
	bus := control.NewMemoryBus()
	sub, err := bus.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("message delivered after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}

	if err := bus.Publish(context.Background(), control.NewMessage(control.ActionWake, "")); !errors.Is(err, control.ErrBusClosed) {
		t.Fatalf("Publish after Close = %v, want ErrBusClosed", err)
	}
	if _, err := bus.Subscribe(context.Background()); !errors.Is(err, control.ErrBusClosed) {
		t.Fatalf("Subscribe after Close = %v, want ErrBusClosed", err)
	}
}

func TestMessageValid(t *testing.T) {
	if !control.NewMessage(control.ActionCancel, "s").Valid() {
		t.Fatal("cancel message reported invalid")
	}
	if !control.NewMessage(control.ActionWake, "").Valid() {
		t.Fatal("wake message reported invalid")
	}
	if (control.Message{Action: "restart"}).Valid() {
		t.Fatal("unknown action reported valid")
	}
}

func TestHubBridgesSocketBroadcasts(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "runqd.sock")
	bus := control.NewMemoryBus()
	defer bus.Close()

	hub, err := control.NewHub(context.Background(), sockPath, bus, logging.NewNop())
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	hub.Serve()
	defer hub.Close()

	sub, err := bus.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if !control.Ping(sockPath) {
		t.Fatal("Ping reported hub socket unreachable")
	}

	if err := control.Broadcast(sockPath, control.NewMessage(control.ActionCancel, "cli-session")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case got := <-sub.C:
		if got.Action != control.ActionCancel {
			t.Fatalf("bridged action = %q", got.Action)
		}
		if got.SessionID != "cli-session" {
			t.Fatalf("bridged session = %q", got.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never reached the local bus")
	}
}

func TestHubIgnoresMalformedAndUnknownMessages(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "runqd.sock")
	bus := control.NewMemoryBus()
	defer bus.Close()

	hub, err := control.NewHub(context.Background(), sockPath, bus, logging.NewNop())
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	hub.Serve()
	defer hub.Close()

	sub, err := bus.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	defer conn.Close()
	lines := "this is not json\n" +
		`{"action":"restart"}` + "\n" +
		`{"action":"wake","session_id":"survivor"}` + "\n"
	if _, err := conn.Write([]byte(lines)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-sub.C:
		if got.Action != control.ActionWake || got.SessionID != "survivor" {
			t.Fatalf("unexpected bridged message %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid message after garbage was not bridged")
	}

	select {
	case got := <-sub.C:
		t.Fatalf("garbage produced a bus message: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubCloseRemovesSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "runqd.sock")
	bus := control.NewMemoryBus()
	defer bus.Close()

	hub, err := control.NewHub(context.Background(), sockPath, bus, logging.NewNop())
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	hub.Serve()
	hub.Close()

	if _, err := os.Stat(sockPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("socket file survived Close: %v", err)
	}
	if control.Ping(sockPath) {
		t.Fatal("Ping succeeded after Close")
	}
}

func TestHubReplacesStaleSocketFile(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "runqd.sock")
	if err := os.WriteFile(sockPath, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed stale socket: %v", err)
	}
	bus := control.NewMemoryBus()
	defer bus.Close()

	hub, err := control.NewHub(context.Background(), sockPath, bus, logging.NewNop())
	if err != nil {
		t.Fatalf("NewHub over stale socket: %v", err)
	}
	hub.Serve()
	defer hub.Close()

	if !control.Ping(sockPath) {
		t.Fatal("hub not reachable after replacing stale socket")
	}
}

func TestBroadcastWithoutListener(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "missing.sock")
	err := control.Broadcast(sockPath, control.NewMessage(control.ActionCancel, ""))
	if err == nil {
		t.Fatal("Broadcast succeeded with no listener")
	}
	if control.Ping(sockPath) {
		t.Fatal("Ping succeeded with no listener")
	}
}
