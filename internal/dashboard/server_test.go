package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/reliefbase/fieldsync/internal/store"
)

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	srv := NewServer(st, &Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv, st
}

func TestServer_Health(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", srv.GetAddr()))
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestServer_Stats(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/stats", srv.GetAddr()))
	if err != nil {
		t.Fatalf("GET /stats failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var stats store.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.QueueItems != 0 {
		t.Errorf("QueueItems = %d, want 0 on a fresh store", stats.QueueItems)
	}
}

func TestServer_WebSocketWelcomeAndBroadcast(t *testing.T) {
	srv, _ := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", srv.GetAddr()), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// First message is the stats welcome
	var welcome Message
	if err := readMessage(ctx, conn, &welcome); err != nil {
		t.Fatalf("failed to read welcome: %v", err)
	}
	if welcome.Type != MessageTypeStats {
		t.Errorf("welcome type = %q, want %q", welcome.Type, MessageTypeStats)
	}

	srv.BroadcastResult(MessageTypePushComplete, true, 3, 0, nil)

	var msg Message
	if err := readMessage(ctx, conn, &msg); err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	if msg.Type != MessageTypePushComplete {
		t.Errorf("type = %q, want %q", msg.Type, MessageTypePushComplete)
	}

	var result ResultData
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		t.Fatalf("failed to decode result data: %v", err)
	}
	if !result.Success || result.Synced != 3 {
		t.Errorf("result = %+v, want success with 3 synced", result)
	}
}

func TestServer_ClientCount(t *testing.T) {
	srv, _ := testServer(t)

	if n := srv.ClientCount(); n != 0 {
		t.Errorf("ClientCount = %d, want 0", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", srv.GetAddr()), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := srv.ClientCount(); n != 1 {
		t.Errorf("ClientCount = %d, want 1", n)
	}
}

func readMessage(ctx context.Context, conn *websocket.Conn, out *Message) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
