// Package bridge carries application events published on a Redis channel
// into the local event emitters.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"statusfeed-server/domain"
	"statusfeed-server/events"
)

const DefaultChannel = "statusfeed:events"

// Dispatcher is satisfied by *events.Emitter.
type Dispatcher interface {
	Dispatch(event, projectID string, data domain.Message) (int, error)
}

type Subscriber struct {
	rdb        *redis.Client
	channel    string
	dispatcher Dispatcher
}

func NewSubscriber(rdb *redis.Client, channel string, d Dispatcher) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{rdb: rdb, channel: channel, dispatcher: d}
}

// Run subscribes to the channel and dispatches every message until ctx is
// done. Messages that fail to decode or dispatch are logged and dropped.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	slog.Info("bridge subscribed", "channel", s.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(msg.Payload)
		}
	}
}

func (s *Subscriber) handle(payload string) {
	var ev events.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		slog.Warn("bridge: invalid event", "channel", s.channel, "error", err)
		return
	}
	delivered, err := s.dispatcher.Dispatch(ev.Event, ev.ProjectID, ev.Data)
	if err != nil {
		slog.Warn("bridge: dispatch failed", "event", ev.Event, "projectId", ev.ProjectID, "error", err)
		return
	}
	slog.Debug("bridge: event dispatched", "event", ev.Event, "projectId", ev.ProjectID, "recipients", delivered)
}

type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}
