package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func waitForClients(t *testing.T, h *Hub, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Stats().ConnectedClients == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d connected clients, got %d", n, h.Stats().ConnectedClients)
}

func TestHubPublishReachesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()
	waitForClients(t, hub, 1)

	if err := hub.Publish(EpochProgress, EpochMessage{Epoch: 3, Error: 0.5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != EpochProgress {
		t.Fatalf("expected epoch message, got %s", msg.Type)
	}
	var epoch EpochMessage
	if err := json.Unmarshal(msg.Data, &epoch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if epoch.Epoch != 3 || epoch.Error != 0.5 {
		t.Fatalf("unexpected payload: %+v", epoch)
	}
}

func TestHubUnregistersClosedClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subscriptions: make(map[MessageType]bool)}
	if !c.wants(EpochProgress) || !c.wants(RunComplete) {
		t.Fatalf("client without subscriptions should receive everything")
	}

	c.handle(ClientMessage{Type: "subscribe", Topic: string(RunComplete)})
	if c.wants(EpochProgress) {
		t.Fatalf("expected epoch messages to be filtered")
	}
	if !c.wants(RunComplete) {
		t.Fatalf("expected run_complete messages")
	}

	c.handle(ClientMessage{Type: "unsubscribe", Topic: string(RunComplete)})
	if !c.wants(EpochProgress) {
		t.Fatalf("expected every message after unsubscribing")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	// no pumps run for these clients, so nothing drains their buffers
	slow := &client{send: make(chan []byte, 1), clientID: "slow", subscriptions: make(map[MessageType]bool)}
	healthy := &client{send: make(chan []byte, 8), clientID: "healthy", subscriptions: make(map[MessageType]bool)}
	hub.register <- slow
	hub.register <- healthy
	waitForClients(t, hub, 2)

	for epoch := 1; epoch <= 2; epoch++ {
		if err := hub.Publish(EpochProgress, EpochMessage{Epoch: epoch}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	waitForClients(t, hub, 1)

	if _, ok := <-slow.send; !ok {
		t.Fatal("expected the buffered message before close")
	}
	if _, ok := <-slow.send; ok {
		t.Fatal("expected the slow client's send channel to be closed")
	}
	if got := len(healthy.send); got != 2 {
		t.Fatalf("expected 2 messages for the healthy client, got %d", got)
	}
	if sent := hub.Stats().MessagesSent; sent != 3 {
		t.Fatalf("expected 3 sent messages, got %d", sent)
	}
}
