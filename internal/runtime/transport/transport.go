// Package transport opens the message.Publisher the publish loop writes to.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hookd/internal/runtime/config"
	errspkg "github.com/drblury/hookd/internal/runtime/errors"
)

// Dialer opens a fresh publisher. The publish loop calls Dial again after
// every failure, so implementations must not cache a broken connection.
type Dialer interface {
	Dial(ctx context.Context) (message.Publisher, error)
}

// DialerFunc adapts a plain function to Dialer.
type DialerFunc func(ctx context.Context) (message.Publisher, error)

func (f DialerFunc) Dial(ctx context.Context) (message.Publisher, error) {
	return f(ctx)
}

// NewDialer picks the dialer for conf.Transport.
func NewDialer(conf *config.Config, logger watermill.LoggerAdapter) (Dialer, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	switch conf.Transport {
	case "", config.TransportAMQP:
		return amqpDialer{conf: conf, logger: logger}, nil
	case config.TransportChannel:
		return channelDialer(logger), nil
	case config.TransportIO:
		if conf.IOFile == "" {
			return nil, fmt.Errorf("io transport: %w", errspkg.ErrConfigRequired)
		}
		return DialerFunc(func(context.Context) (message.Publisher, error) {
			return IOPublisherFactory(conf.IOFile, logger)
		}), nil
	case config.TransportHTTP:
		if conf.HTTPURL == "" {
			return nil, fmt.Errorf("http transport: %w", errspkg.ErrConfigRequired)
		}
		return httpDialer(conf.HTTPURL, logger), nil
	case config.TransportNATS:
		url := conf.NATSURL
		if url == "" {
			url = config.DefaultNATSURL
		}
		return natsDialer(url, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", conf.Transport)
	}
}
