package dashboard

import (
	"context"

	"github.com/flyingrobots/slaps/internal/dashboard/websocket"
	"github.com/flyingrobots/slaps/internal/events"
)

// hubPublisher adapts a websocket.Hub into an events.Publisher so the
// watcher's existing event-publishing path can feed live viewers
// without knowing the dashboard exists. It never fails a publish: a
// full broadcast buffer only drops the live copy, never the JSONL
// record of record.
type hubPublisher struct {
	hub *websocket.Hub
}

func (p *hubPublisher) Publish(_ context.Context, event *events.Event) error {
	p.hub.Broadcast(event)
	return nil
}

func (p *hubPublisher) Close() error { return nil }

// Publisher returns an events.Publisher that mirrors every published
// event to this dashboard's connected WebSocket viewers. Callers
// combine it with the primary JSONL sink via events.NewMultiPublisher
// so /status/stream reflects live activity in single-process
// deployments that don't run a Redis fanout.
func (s *Server) Publisher() events.Publisher { return &hubPublisher{hub: s.hub} }
