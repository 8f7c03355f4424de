package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/pulseboard/pulseboard/board"
)

// Hub fans realtime events out to SSE clients subscribed per board.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[chan board.Event]bool // board id -> subscribers
	logger  *slog.Logger
}

// NewHub creates an event hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[chan board.Event]bool),
		logger:  logger,
	}
}

// Subscribe registers a new client channel for a board.
func (h *Hub) Subscribe(boardID string) chan board.Event {
	ch := make(chan board.Event, 16)
	h.mu.Lock()
	if h.clients[boardID] == nil {
		h.clients[boardID] = make(map[chan board.Event]bool)
	}
	h.clients[boardID][ch] = true
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (h *Hub) Unsubscribe(boardID string, ch chan board.Event) {
	h.mu.Lock()
	if subs := h.clients[boardID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.clients, boardID)
		}
	}
	h.mu.Unlock()
	close(ch)
}

// BroadcastToBoard publishes an event to every subscriber of a board.
// Slow clients are skipped rather than blocking the publisher.
func (h *Hub) BroadcastToBoard(boardID string, ev board.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients[boardID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// handleBoardEvents streams a board's events to the client over SSE.
func (s *Server) handleBoardEvents(w http.ResponseWriter, r *http.Request) {
	boardID := chi.URLParam(r, "boardID")
	if _, found := s.store.GetBoard(boardID); !found {
		s.jsonError(w, "Board not found", http.StatusNotFound)
		return
	}

	// Set headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := s.hub.Subscribe(boardID)
	defer s.hub.Unsubscribe(boardID, ch)

	// Send initial connection message
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	s.logger.Debug("SSE client connected", "board", boardID)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "board", boardID)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Action, data)
			flusher.Flush()
		}
	}
}
