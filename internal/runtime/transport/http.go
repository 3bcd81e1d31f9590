package transport

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/hookd/internal/runtime/errors"
)

// DefaultHTTPTimeout bounds a single webhook delivery.
const DefaultHTTPTimeout = 10 * time.Second

var (
	HTTPPublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return http.NewPublisher(cfg, logger)
	}
)

// HTTPPublisherConfig posts every event to baseURL/<routing key>.
func HTTPPublisherConfig(baseURL string) http.PublisherConfig {
	base := strings.TrimRight(baseURL, "/") + "/"
	return http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			req, err := http.DefaultMarshalMessageFunc(base+topic, msg)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("User-Agent", AppID)
			return req, nil
		},
		Client: &nethttp.Client{Timeout: DefaultHTTPTimeout},
	}
}

func httpDialer(baseURL string, logger watermill.LoggerAdapter) Dialer {
	return DialerFunc(func(ctx context.Context) (message.Publisher, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pub, err := HTTPPublisherFactory(HTTPPublisherConfig(baseURL), logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errspkg.ErrBrokerConnection, err)
		}
		return pub, nil
	})
}
