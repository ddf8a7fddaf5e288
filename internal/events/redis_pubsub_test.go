package events

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNewRedisFanout(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	fanout := NewRedisFanout(client)

	assert.NotNil(t, fanout)
	assert.Equal(t, client, fanout.client)
}

func TestRedisFanout_Publish_UnreachableServerReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1", // nothing listens here
		DialTimeout: 100 * time.Millisecond,
	})
	fanout := NewRedisFanout(client)
	defer fanout.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := fanout.Publish(ctx, New(time.Now(), EventClaimed, map[string]interface{}{"task": 1}))
	assert.Error(t, err)
}

func TestFanoutChannelName(t *testing.T) {
	assert.Equal(t, "slaps:events", fanoutChannel)
}
