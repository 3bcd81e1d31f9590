package transport

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hookd/internal/runtime/jsoncodec"
)

var (
	IOPublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return &ioPublisher{filePath: filePath, logger: logger}, nil
	}
)

// ioPublisher appends one JSON line per message to a file. It stands in for
// the broker when inspecting the daemon's output locally.
type ioPublisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// StoredMessage is the line format written by the io transport.
type StoredMessage struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata"`
	Payload  json.RawMessage   `json:"payload"`
}

func (p *ioPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		payload := json.RawMessage(msg.Payload)
		if !jsoncodec.Valid(payload) {
			payload, err = jsoncodec.Marshal(string(msg.Payload))
			if err != nil {
				return err
			}
		}
		if err := jsoncodec.Encode(f, StoredMessage{
			UUID:     msg.UUID,
			Topic:    topic,
			Metadata: msg.Metadata,
			Payload:  payload,
		}); err != nil {
			return err
		}
		p.logger.Trace("Message appended", watermill.LogFields{"uuid": msg.UUID, "topic": topic})
	}
	return nil
}

func (p *ioPublisher) Close() error {
	return nil
}
