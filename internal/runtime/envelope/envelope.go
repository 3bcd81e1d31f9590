// Package envelope defines the wire records hookd reads from its socket and
// the enriched records it publishes.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	errspkg "github.com/drblury/hookd/internal/runtime/errors"
	"github.com/drblury/hookd/internal/runtime/jsoncodec"
)

// EventTypePrefix is prepended to the lowercased tool name to build the
// routing key of every enriched event.
const EventTypePrefix = "tool.mutation."

// PreviewLimit bounds how much of a rejected line is kept for logging.
const PreviewLimit = 200

// MaxLineSize bounds one encoded envelope. Write payloads carry whole files,
// so the limit is generous; longer lines are rejected one at a time.
const MaxLineSize = 16 << 20

// HookEnvelope is the raw record emitted by hook clients, one per line.
type HookEnvelope struct {
	EventType string          `json:"event_type"`
	ToolName  string          `json:"tool_name"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	PID       uint32          `json:"pid"`
}

// RepoContext describes the repository a mutation happened in.
type RepoContext struct {
	GitRoot   string  `json:"git_root"`
	Branch    string  `json:"branch"`
	HeadSHA   string  `json:"head_sha"`
	RemoteURL *string `json:"remote_url"`
}

// Equal compares two contexts field by field.
func (r RepoContext) Equal(other RepoContext) bool {
	if r.GitRoot != other.GitRoot || r.Branch != other.Branch || r.HeadSHA != other.HeadSHA {
		return false
	}
	if r.RemoteURL == nil || other.RemoteURL == nil {
		return r.RemoteURL == nil && other.RemoteURL == nil
	}
	return *r.RemoteURL == *other.RemoteURL
}

// ToolMutationEvent is the enriched record published to the exchange.
// Consumers treat this shape as their canonical schema.
type ToolMutationEvent struct {
	EventType     string          `json:"event_type"`
	HookType      string          `json:"hook_type"`
	ToolName      string          `json:"tool_name"`
	AgentID       string          `json:"agent_id"`
	Repo          RepoContext     `json:"repo"`
	FilePath      *string         `json:"file_path"`
	FileExt       *string         `json:"file_ext"`
	LinesChanged  *uint32         `json:"lines_changed"`
	RawPayload    json.RawMessage `json:"raw_payload"`
	Timestamp     time.Time       `json:"timestamp"`
	SourcePID     uint32          `json:"source_pid"`
	CorrelationID string          `json:"correlation_id"`
}

// EventTypeFor derives the routing key for a tool. It never looks at the
// envelope's own event_type.
func EventTypeFor(toolName string) string {
	return EventTypePrefix + strings.ToLower(toolName)
}

// Marshal encodes the event as the JSON message body.
func (e *ToolMutationEvent) Marshal() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// DecodeError reports a line that does not match the HookEnvelope shape.
type DecodeError struct {
	Preview string
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", errspkg.ErrDecode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", errspkg.ErrDecode, e.Reason)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{errspkg.ErrDecode}
	}
	return []error{errspkg.ErrDecode, e.Err}
}

// wireEnvelope keeps every field as raw JSON so presence and type can be
// checked explicitly before conversion.
type wireEnvelope struct {
	EventType *json.RawMessage `json:"event_type"`
	ToolName  *json.RawMessage `json:"tool_name"`
	Payload   json.RawMessage  `json:"payload"`
	Timestamp *json.RawMessage `json:"timestamp"`
	PID       *json.RawMessage `json:"pid"`
}

// Decode parses one line into a HookEnvelope. Every field is required;
// payload may hold any JSON value, null included.
func Decode(line []byte) (HookEnvelope, error) {
	var wire wireEnvelope
	if err := jsoncodec.Unmarshal(line, &wire); err != nil {
		return HookEnvelope{}, newDecodeError(line, "malformed JSON object", err)
	}

	var env HookEnvelope
	if err := requireField(wire.EventType, "event_type", &env.EventType); err != nil {
		return HookEnvelope{}, decodeFieldError(line, err)
	}
	if err := requireField(wire.ToolName, "tool_name", &env.ToolName); err != nil {
		return HookEnvelope{}, decodeFieldError(line, err)
	}

	var rawTS string
	if err := requireField(wire.Timestamp, "timestamp", &rawTS); err != nil {
		return HookEnvelope{}, decodeFieldError(line, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return HookEnvelope{}, newDecodeError(line, "timestamp is not RFC3339", err)
	}
	env.Timestamp = ts.UTC()

	if err := requireField(wire.PID, "pid", &env.PID); err != nil {
		return HookEnvelope{}, decodeFieldError(line, err)
	}

	env.Payload = wire.Payload
	if len(env.Payload) == 0 {
		if !hasKey(line, "payload") {
			return HookEnvelope{}, newDecodeError(line, "missing field payload", nil)
		}
		env.Payload = json.RawMessage("null")
	}
	return env, nil
}

// hasKey reports whether the object in line carries key, whatever its value.
func hasKey(line []byte, key string) bool {
	var fields map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(line, &fields); err != nil {
		return false
	}
	_, ok := fields[key]
	return ok
}

type fieldError struct {
	reason string
	err    error
}

func requireField[T any](raw *json.RawMessage, name string, dst *T) *fieldError {
	if raw == nil {
		return &fieldError{reason: "missing field " + name}
	}
	if err := jsoncodec.Unmarshal(*raw, dst); err != nil {
		return &fieldError{reason: "invalid field " + name, err: err}
	}
	return nil
}

// NewOversizeError reports a line of size bytes that exceeds MaxLineSize.
// head holds its leading bytes for the preview.
func NewOversizeError(head []byte, size int) *DecodeError {
	return newDecodeError(head, fmt.Sprintf("line of %d bytes exceeds %d byte limit", size, MaxLineSize), nil)
}

func decodeFieldError(line []byte, fe *fieldError) error {
	return newDecodeError(line, fe.reason, fe.err)
}

func newDecodeError(line []byte, reason string, err error) *DecodeError {
	return &DecodeError{Preview: Preview(line), Reason: reason, Err: err}
}

// Preview returns at most PreviewLimit characters of line without splitting
// a UTF-8 sequence.
func Preview(line []byte) string {
	if utf8.RuneCount(line) <= PreviewLimit {
		return string(line)
	}
	var b strings.Builder
	n := 0
	for _, r := range string(line) {
		if n == PreviewLimit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
