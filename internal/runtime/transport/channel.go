package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

var (
	GoChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
		return gochannel.NewGoChannel(cfg, logger)
	}
)

// channelDialer publishes into a process-local pubsub. Without subscribers
// messages are discarded, which makes it a dry-run sink for the daemon.
func channelDialer(logger watermill.LoggerAdapter) Dialer {
	pubSub := GoChannelFactory(gochannel.Config{}, logger)
	return NewChannelDialer(pubSub)
}

// NewChannelDialer hands out pubSub on every Dial. Closing the returned
// publisher leaves pubSub open so redials keep working.
func NewChannelDialer(pubSub message.Publisher) Dialer {
	return DialerFunc(func(ctx context.Context) (message.Publisher, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return sharedPublisher{Publisher: pubSub}, nil
	})
}

type sharedPublisher struct {
	message.Publisher
}

func (sharedPublisher) Close() error { return nil }
