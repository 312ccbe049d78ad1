package identity

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const eventsChannel = "openshelf:identity:events"

// EventKind tags an identity-change notification.
type EventKind string

const (
	// EventSignedIn is published after a successful sign-in.
	EventSignedIn EventKind = "signed_in"
	// EventSignedOut is published after a sign-out, including sign-outs
	// performed by another instance sharing the same Redis.
	EventSignedOut EventKind = "signed_out"
)

// Event is an identity-change notification delivered over Redis pub/sub.
// Origin identifies the publishing instance so it can ignore its own echo.
type Event struct {
	Kind       EventKind `json:"kind"`
	IdentityID int64     `json:"identity_id"`
	Origin     string    `json:"origin,omitempty"`
}

// Bus publishes and subscribes identity-change events. It is the asynchronous
// notification channel the session store listens on for its lifetime.
type Bus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewBus constructs a Bus.
func NewBus(client *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

// Publish broadcasts an event. Failures are reported, not fatal; the local
// dispatch path does not depend on Redis.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if b == nil || b.client == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, eventsChannel, data).Err()
}

// Subscribe returns a channel of events and a release function. The channel
// closes once release is called.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	out := make(chan Event)
	if b == nil || b.client == nil {
		close(out)
		return out, func() {}
	}

	sub := b.client.Subscribe(ctx, eventsChannel)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					if b.logger != nil {
						b.logger.Warn("identity event decode", slog.Any("error", err))
					}
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				}
			}
		}
	}()

	var released bool
	return out, func() {
		if released {
			return
		}
		released = true
		close(done)
		_ = sub.Close()
	}
}
