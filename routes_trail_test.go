package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archmesh-cloud/trail"
)

func newTrailServer(t *testing.T) (*httptest.Server, *trail.Bus) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	bus := trail.NewBus(client)

	r := mux.NewRouter()
	registerTrailRoutes(r, bus)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, bus
}

func TestTrailSSEStreamsEntries(t *testing.T) {
	server, bus := newTrailServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/workflows/sess-1/trail?after=0", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	entryCh := make(chan trail.Entry, 1)
	go func() {
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(entryCh)
				return
			}

			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}

			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var entry trail.Entry
			if err := json.Unmarshal([]byte(payload), &entry); err == nil {
				entryCh <- entry
				return
			}
		}
	}()

	_, err = bus.Append(context.Background(), "sess-1", "requirements_in_progress", map[string]any{
		"event": "stage_change",
		"to":    "requirements_in_progress",
	})
	require.NoError(t, err)

	select {
	case entry, ok := <-entryCh:
		require.True(t, ok, "SSE stream closed before delivering an entry")
		assert.Equal(t, "sess-1", entry.SessionID)
		assert.Equal(t, "requirements_in_progress", entry.Stage)
		assert.Equal(t, "stage_change", entry.Values["event"])
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for SSE entry")
	}
}

func TestTrailRecentEndpoint(t *testing.T) {
	server, bus := newTrailServer(t)
	ctx := context.Background()

	for _, stage := range []string{"created", "requirements_in_progress", "requirements_review"} {
		_, err := bus.Append(ctx, "sess-2", stage, map[string]any{"event": "stage_change", "to": stage})
		require.NoError(t, err)
	}

	resp, err := http.Get(server.URL + "/workflows/sess-2/trail/recent?count=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		SessionID string        `json:"session_id"`
		Entries   []trail.Entry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "sess-2", body.SessionID)
	require.Len(t, body.Entries, 2)
	// Oldest of the returned window first.
	assert.Equal(t, "requirements_in_progress", body.Entries[0].Stage)
	assert.Equal(t, "requirements_review", body.Entries[1].Stage)
}

func TestTrailWebSocketStreamsEntries(t *testing.T) {
	server, bus := newTrailServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/workflows/sess-3/ws?after=0"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	_, err = bus.Append(context.Background(), "sess-3", "architecture_review", map[string]any{
		"event":  "stage_change",
		"to":     "architecture_review",
		"reason": "artifact ready for review",
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var entry trail.Entry
	require.NoError(t, conn.ReadJSON(&entry))
	assert.Equal(t, "sess-3", entry.SessionID)
	assert.Equal(t, "architecture_review", entry.Stage)
	assert.Equal(t, "artifact ready for review", entry.Values["reason"])
}
