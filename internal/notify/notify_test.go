// Package notify tests.
package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPublishWithoutClientsDoesNotBlock(t *testing.T) {
	h := NewHub()
	defer h.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(EventSyncCompleted, "sync completed", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no connected clients")
	}
}

func TestPublishReachesClient(t *testing.T) {
	h := NewHub()
	defer h.Close()

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the hub a moment to register the client.
	time.Sleep(50 * time.Millisecond)

	h.Publish(EventSyncCooldown, "sync paused for 2 minutes", map[string]any{"minutes": 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var e envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Type != EventSyncCooldown {
		t.Errorf("type = %q, want %q", e.Type, EventSyncCooldown)
	}
	if e.Data["minutes"] != float64(2) {
		t.Errorf("data = %v", e.Data)
	}
	if e.Timestamp == 0 {
		t.Error("timestamp missing")
	}
}
