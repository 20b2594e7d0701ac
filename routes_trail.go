package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"archmesh-cloud/trail"
)

type trailHandler struct {
	bus *trail.Bus
}

func registerTrailRoutes(r *mux.Router, bus *trail.Bus) {
	h := &trailHandler{bus: bus}
	r.HandleFunc("/workflows/{id}/trail", h.handleSSE).Methods("GET")
	r.HandleFunc("/workflows/{id}/trail/recent", h.handleRecent).Methods("GET")
	r.HandleFunc("/workflows/{id}/ws", h.handleWebSocket).Methods("GET")
}

// handleRecent returns the newest trail entries oldest-first, for post-mortem
// inspection without holding a live connection.
func (h *trailHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "trail bus unavailable", http.StatusServiceUnavailable)
		return
	}

	sessionID := mux.Vars(r)["id"]
	count := int64(50)
	if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			count = n
		}
	}

	entries, err := h.bus.Recent(r.Context(), sessionID, count)
	if err != nil {
		http.Error(w, fmt.Sprintf("trail read failed: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"entries":    entries,
	})
}

func (h *trailHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "trail bus unavailable", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := mux.Vars(r)["id"]
	lastID := strings.TrimSpace(r.URL.Query().Get("after"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
			continue
		default:
		}

		entries, nextID, err := h.bus.Tail(ctx, sessionID, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("trail tail error for %s: %v", sessionID, err)
			time.Sleep(300 * time.Millisecond)
			continue
		}

		if len(entries) == 0 {
			continue
		}

		lastID = nextID
		for _, entry := range entries {
			payload, err := json.Marshal(entry)
			if err != nil {
				log.Printf("trail encode error: %v", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\n", entry.ID)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

var trailUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Client is trusted (output-only surface).
		return true
	},
}

func (h *trailHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "trail bus unavailable", http.StatusServiceUnavailable)
		return
	}

	sessionID := mux.Vars(r)["id"]
	lastID := strings.TrimSpace(r.URL.Query().Get("after"))

	conn, err := trailUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()

	for {
		entries, nextID, err := h.bus.Tail(ctx, sessionID, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			time.Sleep(300 * time.Millisecond)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		lastID = nextID
		for _, entry := range entries {
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}
