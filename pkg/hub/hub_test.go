package hub

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBroadcastDelivers(t *testing.T) {
	h := New("test", quietLogger())
	go h.Run()
	defer h.Stop()

	// Register a client without a connection; only its queue is used.
	c := &Client{hub: h, send: make(chan Message, 4)}
	h.register <- c
	if h.ClientCount() != 1 {
		t.Fatalf("clients = %d", h.ClientCount())
	}

	if err := h.BroadcastJSON(map[string]string{"status": "connected"}); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-c.send:
		if msg.Type != JSONMessage || string(msg.Data) != `{"status":"connected"}` {
			t.Errorf("msg = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	h.unregister <- c
	if _, ok := <-c.send; ok {
		t.Error("send queue should be closed on unregister")
	}
}

func TestSlowClientDropped(t *testing.T) {
	h := New("test", quietLogger())
	go h.Run()
	defer h.Stop()

	c := &Client{hub: h, send: make(chan Message)}
	h.register <- c
	h.Broadcast(NewBinaryMessage([]byte{1}))

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.ClientCount() != 0 {
		t.Error("slow client should be dropped")
	}
}

func TestStopClosesClients(t *testing.T) {
	h := New("test", quietLogger())
	go h.Run()

	c := &Client{hub: h, send: make(chan Message, 1)}
	h.register <- c
	h.Stop()
	h.Stop()

	if _, ok := <-c.send; ok {
		t.Error("send queue should be closed on stop")
	}
}

func TestEncodeJSONError(t *testing.T) {
	if _, err := EncodeJSON(make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}
