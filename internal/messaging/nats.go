// Package messaging fans room frames and room lifecycle events out between
// room server instances. NATSBroker is used when several instances serve
// the same rooms; LocalBroker keeps everything in process.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATS subjects used by room servers.
const (
	SubjectRoom        = "room"         // + .<room_id>
	SubjectRoomDeleted = "room.deleted" // payload: room id
)

// Subscription is an active broker subscription.
type Subscription interface {
	Unsubscribe() error
}

// Broker publishes room traffic to every server instance.
type Broker interface {
	PublishRoom(roomID string, data []byte) error
	SubscribeRoom(roomID string, handler func(data []byte)) (Subscription, error)
	PublishRoomDeleted(roomID string) error
	SubscribeRoomDeleted(handler func(roomID string)) (Subscription, error)
	Close()
}

// NATSBroker implements Broker on a NATS connection.
type NATSBroker struct {
	conn   *nats.Conn
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[*nats.Subscription]struct{}
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "roomchat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSBroker connects to NATS with the given config. It returns an error
// if the initial connection fails.
func NewNATSBroker(config NATSConfig, logger zerolog.Logger) (*NATSBroker, error) {
	logger = logger.With().Str("component", "nats").Logger()

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}
	logger.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSBroker{
		conn:   nc,
		logger: logger,
		subs:   make(map[*nats.Subscription]struct{}),
	}, nil
}

// PublishRoom publishes data to room.<roomID>.
func (b *NATSBroker) PublishRoom(roomID string, data []byte) error {
	return b.conn.Publish(SubjectRoom+"."+roomID, data)
}

// SubscribeRoom delivers every frame published to room.<roomID>, in
// publish order.
func (b *NATSBroker) SubscribeRoom(roomID string, handler func(data []byte)) (Subscription, error) {
	return b.subscribe(SubjectRoom+"."+roomID, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishRoomDeleted announces that roomID no longer exists.
func (b *NATSBroker) PublishRoomDeleted(roomID string) error {
	return b.conn.Publish(SubjectRoomDeleted, []byte(roomID))
}

// SubscribeRoomDeleted registers handler for room deletions.
func (b *NATSBroker) SubscribeRoomDeleted(handler func(roomID string)) (Subscription, error) {
	return b.subscribe(SubjectRoomDeleted, func(msg *nats.Msg) {
		handler(string(msg.Data))
	})
}

func (b *NATSBroker) subscribe(subject string, handler nats.MsgHandler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return &natsSubscription{broker: b, sub: sub}, nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (b *NATSBroker) Close() {
	b.mu.Lock()
	for sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("drain failed")
		}
	}
	b.subs = make(map[*nats.Subscription]struct{})
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.logger.Warn().Err(err).Msg("connection drain failed")
	}
}

type natsSubscription struct {
	broker *NATSBroker
	sub    *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s.sub)
	s.broker.mu.Unlock()

	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: nats unsubscribe %s: %w", s.sub.Subject, err)
	}
	return nil
}
