package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// ApplyTo copies the headers onto msg. Keys already set on the message win.
func (m Metadata) ApplyTo(msg *message.Message) {
	if msg.Metadata == nil {
		msg.Metadata = message.Metadata{}
	}
	for k, v := range m {
		if _, exists := msg.Metadata[k]; exists {
			continue
		}
		msg.Metadata[k] = v
	}
}
