package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leafsii/launchpad/internal/launchpad"
)

// DefaultChannel carries launchpad events between API replicas.
const DefaultChannel = "lp:events"

// Relay shares events between replicas over Redis pub/sub. Events go to the
// channel and come back to every replica's hub, including this one. When
// Redis is unreachable the event is delivered to the local hub only.
type Relay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	logger  *zap.SugaredLogger
}

func NewRelay(client redis.UniversalClient, channel string, hub *Hub, logger *zap.SugaredLogger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, hub: hub, logger: logger}
}

var _ launchpad.Publisher = (*Relay)(nil)

func (r *Relay) Publish(ctx context.Context, ev launchpad.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Errorw("Failed to marshal event", "op", ev.Op, "error", err)
		return
	}
	if err := r.client.Publish(context.WithoutCancel(ctx), r.channel, payload).Err(); err != nil {
		r.logger.Warnw("Event relay publish failed, delivering locally", "channel", r.channel, "error", err)
		r.hub.Publish(ctx, ev)
	}
}

// Run forwards channel messages to the hub until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Infow("Event relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev launchpad.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warnw("Dropping malformed relayed event", "error", err)
				continue
			}
			r.hub.Publish(ctx, ev)
		}
	}
}
