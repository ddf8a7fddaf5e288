package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flyingrobots/slaps/internal/logger"
)

const fanoutChannel = "slaps:events"

// RedisFanout republishes every event onto a single Redis Pub/Sub
// channel so a dashboard process running apart from the watcher can
// stream the event log over a WebSocket hub without tailing the JSONL
// file directly. It is a secondary sink: the JSONLog remains the
// system of record (spec.md §9).
type RedisFanout struct {
	client *redis.Client
}

func NewRedisFanout(client *redis.Client) *RedisFanout {
	return &RedisFanout{client: client}
}

func (r *RedisFanout) Publish(ctx context.Context, event *Event) error {
	data, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("redis fanout: marshal: %w", err)
	}
	if err := r.client.Publish(ctx, fanoutChannel, data).Err(); err != nil {
		return fmt.Errorf("redis fanout: publish: %w", err)
	}
	return nil
}

func (r *RedisFanout) Close() error {
	return r.client.Close()
}

// Subscribe streams every event published to the fanout channel,
// decoding each payload back into an Event. The returned channel
// closes when ctx is cancelled.
func (r *RedisFanout) Subscribe(ctx context.Context) (<-chan *Event, error) {
	pubsub := r.client.Subscribe(ctx, fanoutChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("redis fanout: subscribe: %w", err)
	}

	out := make(chan *Event, 100)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := ev.UnmarshalJSON([]byte(msg.Payload)); err != nil {
					logger.Error().Err(err).Msg("redis fanout: failed to decode event")
					continue
				}
				select {
				case out <- &ev:
				default:
					logger.Warn().Str("event", string(ev.Event)).Msg("dashboard event channel full, dropping event")
				}
			}
		}
	}()
	return out, nil
}

var _ Publisher = (*RedisFanout)(nil)
