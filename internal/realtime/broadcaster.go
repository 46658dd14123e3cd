package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

const channelName = "realtime:merchant"

// PubSub is the slice of go-redis the broadcaster needs.
type PubSub interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type channelKeyer interface {
	ChannelKey(name string) string
}

// Broadcaster publishes merchant notifications. With Redis configured every
// instance's Hub receives them through Listen; without it delivery is local.
type Broadcaster struct {
	hub     *Hub
	rdb     PubSub
	channel string
	logg    *logger.Logger
	now     func() time.Time
}

func NewBroadcaster(hub *Hub, rdb PubSub, keys channelKeyer, logg *logger.Logger) (*Broadcaster, error) {
	if hub == nil {
		return nil, errors.New("realtime hub required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	channel := channelName
	if keys != nil {
		channel = keys.ChannelKey(channelName)
	}
	return &Broadcaster{hub: hub, rdb: rdb, channel: channel, logg: logg, now: time.Now}, nil
}

// NotifyMerchant sends n to merchantID wherever its sockets are connected.
func (b *Broadcaster) NotifyMerchant(ctx context.Context, merchantID uuid.UUID, n Notification) error {
	n.MerchantID = merchantID
	if n.SentAt.IsZero() {
		n.SentAt = b.now().UTC()
	}
	if b.rdb == nil {
		b.hub.Deliver(ctx, n)
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, body).Err()
}

// Listen relays published notifications into the local hub until ctx ends.
func (b *Broadcaster) Listen(ctx context.Context) error {
	if b.rdb == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.logg.Info(b.logg.WithField(ctx, "channel", b.channel), "realtime.listen.start")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("realtime subscription closed")
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				b.logg.Warn(ctx, "realtime.decode_failed", err)
				continue
			}
			b.hub.Deliver(ctx, n)
		}
	}
}
