package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/hookd/internal/runtime/config"
	errspkg "github.com/drblury/hookd/internal/runtime/errors"
	"github.com/drblury/hookd/internal/runtime/metadata"
)

// AppID is stamped on every AMQP publishing.
const AppID = "hookd"

var (
	AmqpConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	// AmqpExchangeDeclarer declares the exchange on a short-lived channel of conn.
	AmqpExchangeDeclarer = func(conn *amqp.ConnectionWrapper, cfg amqp.Config, exchange string) error {
		ch, err := conn.Connection().Channel()
		if err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
		defer func() { _ = ch.Close() }()
		return cfg.TopologyBuilder.ExchangeDeclare(ch, exchange, cfg)
	}
	AmqpPublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
)

type amqpDialer struct {
	conf   *config.Config
	logger watermill.LoggerAdapter
}

// Dial connects to the broker, declares the exchange and returns a publisher
// bound to it. Nothing is taken off the queue until all three succeed.
func (d amqpDialer) Dial(ctx context.Context) (message.Publisher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	amqpConfig := AMQPConfig(d.conf.AMQPURL, d.conf.ExchangeName)
	conn, err := AmqpConnectionFactory(amqpConfig.Connection, d.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errspkg.ErrBrokerConnection, err)
	}

	if err := AmqpExchangeDeclarer(conn, amqpConfig, d.conf.ExchangeName); err != nil {
		_ = closeConnection(conn)
		return nil, fmt.Errorf("%w: declare exchange %q: %w", errspkg.ErrBrokerConnection, d.conf.ExchangeName, err)
	}

	publisher, err := AmqpPublisherFactory(amqpConfig, d.logger, conn)
	if err != nil {
		_ = closeConnection(conn)
		return nil, fmt.Errorf("%w: %w", errspkg.ErrBrokerConnection, err)
	}
	return &amqpPublisher{Publisher: publisher, conn: conn}, nil
}

// AMQPConfig describes a publisher on a durable topic exchange. Topics are
// used verbatim as routing keys and every publishing is persistent JSON.
func AMQPConfig(url, exchange string) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicNameWithSuffix("-hookd"))

	cfg.Connection = amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}
	cfg.Exchange.GenerateName = func(string) string { return exchange }
	cfg.Exchange.Type = "topic"
	cfg.Exchange.Durable = true
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.Marshaler = amqp.DefaultMarshaler{PostprocessPublishing: decoratePublishing}

	return cfg
}

// decoratePublishing fills the AMQP properties consumers filter on.
func decoratePublishing(p amqp091.Publishing) amqp091.Publishing {
	p.ContentType = "application/json"
	p.AppId = AppID
	p.DeliveryMode = amqp091.Persistent
	if id, ok := p.Headers[amqp.DefaultMessageUUIDHeaderKey].(string); ok {
		p.MessageId = id
	}
	if id, ok := p.Headers[metadata.KeyCorrelationID].(string); ok {
		p.CorrelationId = id
	}
	return p
}

// amqpPublisher owns its connection so a failed publisher can be discarded
// and dialled again from scratch.
type amqpPublisher struct {
	message.Publisher
	conn *amqp.ConnectionWrapper
}

func (p *amqpPublisher) Close() error {
	err := p.Publisher.Close()
	return errors.Join(err, closeConnection(p.conn))
}

func closeConnection(conn *amqp.ConnectionWrapper) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}
