package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "shopcore/internal/kafka"
	"shopcore/internal/redisx"
	"shopcore/internal/shop"
)

// ChannelPublisher fans an order representation out to the subscribers
// of one realtime channel. At most once per publish; no replay.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisBroadcaster publishes over Redis pub/sub; the realtime transport
// (websocket gateway) subscribes to order_{id} channels.
type RedisBroadcaster struct {
	Client *redis.Client
}

func (b RedisBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.Client.Publish(ctx, channel, payload).Err()
}

type EmailSender interface {
	SendOrderConfirmation(to string, o shop.Order) error
}

// Service is the consumer side of the notification pipeline. Realtime
// publish failures are logged and swallowed (at-most-once); email
// failures are returned so the offset is not committed and the message
// is redelivered (at-least-once).
type Service struct {
	Redis       *redis.Client // event dedup; nil disables
	Realtime    ChannelPublisher
	Mailer      EmailSender // nil disables confirmation email
	ServiceName string
}

func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env shop.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	switch env.EventType {
	case shop.EventOrderPlaced, shop.EventOrderStatusChanged:
	default:
		return nil // ignore
	}

	p, err := kafkax.UnwrapPayload[shop.OrderEventPayload](env.Payload)
	if err != nil {
		return err
	}

	if s.Realtime != nil {
		body, err := json.Marshal(p.Order)
		if err != nil {
			return err
		}
		if err := s.Realtime.Publish(ctx, shop.RealtimeChannel(p.Order.ID), body); err != nil {
			log.Printf("realtime publish order=%s: %v", p.Order.ID, err)
		}
	}

	if env.EventType == shop.EventOrderPlaced && s.Mailer != nil && p.UserEmail != "" {
		dkey := fmt.Sprintf(redisx.KeyDedup, "mailer", env.EventID)
		if s.Redis != nil {
			if sent, _ := redisx.Exists(ctx, s.Redis, dkey); sent {
				return nil
			}
		}
		if err := s.Mailer.SendOrderConfirmation(p.UserEmail, p.Order); err != nil {
			return err
		}
		if s.Redis != nil {
			_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
		}
	}
	return nil
}
