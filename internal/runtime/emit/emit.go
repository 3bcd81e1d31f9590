// Package emit is the client side of the hook socket. It turns the JSON a
// Claude Code hook receives on stdin into a HookEnvelope line and hands it to
// the daemon.
package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/drblury/hookd/internal/runtime/envelope"
	"github.com/drblury/hookd/internal/runtime/jsoncodec"
)

const (
	DefaultAttempts    = 3
	DefaultDelay       = 100 * time.Millisecond
	DefaultDialTimeout = time.Second
	// MaxInputSize matches the daemon's line limit.
	MaxInputSize = envelope.MaxLineSize
)

var errEmptyInput = errors.New("empty hook input")

type hookInput struct {
	HookEventName string `json:"hook_event_name"`
	ToolName      string `json:"tool_name"`
}

// BuildEnvelope wraps a hook document. The whole document becomes the
// payload so tool_input and friends reach the enricher untouched.
func BuildEnvelope(raw []byte, pid uint32, now time.Time) (envelope.HookEnvelope, error) {
	if len(raw) == 0 {
		return envelope.HookEnvelope{}, errEmptyInput
	}
	var in hookInput
	if err := jsoncodec.Unmarshal(raw, &in); err != nil {
		return envelope.HookEnvelope{}, fmt.Errorf("parse hook input: %w", err)
	}
	if in.HookEventName == "" {
		return envelope.HookEnvelope{}, errors.New("hook input: missing hook_event_name")
	}
	if in.ToolName == "" {
		return envelope.HookEnvelope{}, errors.New("hook input: missing tool_name")
	}

	// The envelope travels as a single line.
	var payload bytes.Buffer
	if err := json.Compact(&payload, raw); err != nil {
		return envelope.HookEnvelope{}, fmt.Errorf("parse hook input: %w", err)
	}
	return envelope.HookEnvelope{
		EventType: in.HookEventName,
		ToolName:  in.ToolName,
		Payload:   payload.Bytes(),
		Timestamp: now.UTC(),
		PID:       pid,
	}, nil
}

// Client delivers envelopes to a running daemon.
type Client struct {
	SocketPath  string
	Attempts    uint
	Delay       time.Duration
	DialTimeout time.Duration
}

// Send dials the socket, retrying briefly while the daemon starts, and
// writes env as one line.
func (c Client) Send(ctx context.Context, env envelope.HookEnvelope) error {
	attempts := c.Attempts
	if attempts == 0 {
		attempts = DefaultAttempts
	}
	delay := c.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	dialTimeout := c.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	line, err := jsoncodec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(line) > envelope.MaxLineSize {
		return fmt.Errorf("envelope of %d bytes exceeds the daemon's %d byte line limit", len(line), envelope.MaxLineSize)
	}
	line = append(line, '\n')

	var conn net.Conn
	dialer := net.Dialer{Timeout: dialTimeout}
	err = retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		var err error
		conn, err = dialer.DialContext(ctx, "unix", c.SocketPath)
		return err
	})
	if err != nil {
		return fmt.Errorf("connect to hookd at %s: %w", c.SocketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(line); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Forward reads one hook document from r and sends it with pid as the
// source process.
func Forward(ctx context.Context, r io.Reader, client Client, pid uint32) error {
	raw, err := io.ReadAll(io.LimitReader(r, MaxInputSize+1))
	if err != nil {
		return fmt.Errorf("read hook input: %w", err)
	}
	if len(raw) > MaxInputSize {
		return fmt.Errorf("hook input exceeds %d bytes", MaxInputSize)
	}
	env, err := BuildEnvelope(bytes.TrimSpace(raw), pid, time.Now())
	if err != nil {
		return err
	}
	return client.Send(ctx, env)
}
