// Package websocket fans the SLAPS event stream out to connected
// dashboard viewers. Adapted directly from the teacher's
// internal/api/websocket package: same hub/client/handler split, same
// register/unregister/broadcast channel shape, repointed at
// events.Event/events.Publisher instead of task-queue-go's task
// lifecycle events.
package websocket

import (
	"context"
	"sync"

	"github.com/flyingrobots/slaps/internal/events"
	"github.com/flyingrobots/slaps/internal/logger"
	"github.com/flyingrobots/slaps/internal/metrics"
)

// Hub manages WebSocket clients and broadcasts wave events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *events.Event
	register   chan *Client
	unregister chan *Client
	source     EventSource
	mu         sync.RWMutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// EventSource is whatever feeds the hub events from another process,
// e.g. events.RedisFanout.Subscribe. Single-process deployments pass no
// source and feed the hub through Broadcast instead.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan *events.Event, error)
}

// NewHub creates a new WebSocket hub reading from source. source may
// be nil, in which case Run only serves locally Broadcast-ed events
// (used when the dashboard shares a process with the watcher it
// mirrors).
func NewHub(source EventSource) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *events.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		source:     source,
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	if h.source != nil {
		eventCh, err := h.source.Subscribe(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("dashboard: failed to subscribe to event source")
		} else {
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case <-h.stopCh:
						return
					case event, ok := <-eventCh:
						if !ok {
							return
						}
						h.broadcast <- event
					}
				}
			}()
		}
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAllClients()
				return
			case <-h.stopCh:
				h.closeAllClients()
				return
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))

			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					close(client.send)
				}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))

			case event := <-h.broadcast:
				h.broadcastEvent(event)
			}
		}
	}()

	logger.Get().Info().Msg("dashboard websocket hub started")
}

// Stop stops the hub and waits for its goroutines to exit.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

// Register registers a client with the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister unregisters a client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// Broadcast sends an event to every connected client, dropping it if
// the broadcast buffer is full.
func (h *Hub) Broadcast(event *events.Event) {
	select {
	case h.broadcast <- event:
	default:
		logger.Warn().Msg("dashboard: broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastEvent(event *events.Event) {
	data, err := event.MarshalJSON()
	if err != nil {
		logger.Warn().Err(err).Msg("dashboard: failed to serialize event for broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
			metrics.RecordWebSocketMessage(string(event.Event))
		default:
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
