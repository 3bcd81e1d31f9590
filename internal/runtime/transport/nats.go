package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	errspkg "github.com/drblury/hookd/internal/runtime/errors"
)

var (
	NATSPublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nats.NewPublisher(cfg, logger)
	}
)

// NATSPublisherConfig publishes on core NATS with the routing key as subject.
// Reconnects are left to the publish loop, so the client gives up at once.
func NATSPublisherConfig(url string) nats.PublisherConfig {
	return nats.PublisherConfig{
		URL: url,
		NatsOptions: []natsgo.Option{
			natsgo.Name(AppID),
			natsgo.NoReconnect(),
		},
		Marshaler: &nats.NATSMarshaler{},
		JetStream: nats.JetStreamConfig{Disabled: true},
	}
}

func natsDialer(url string, logger watermill.LoggerAdapter) Dialer {
	return DialerFunc(func(ctx context.Context) (message.Publisher, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pub, err := NATSPublisherFactory(NATSPublisherConfig(url), logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errspkg.ErrBrokerConnection, err)
		}
		return pub, nil
	})
}
