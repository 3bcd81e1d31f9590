package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrDecode", ErrDecode, "hookd: invalid envelope"},
		{"ErrUnattributable", ErrUnattributable, "hookd: no repository context for event"},
		{"ErrExternalQuery", ErrExternalQuery, "hookd: git query failed"},
		{"ErrQueueFull", ErrQueueFull, "hookd: publish queue is full"},
		{"ErrPublisherStopped", ErrPublisherStopped, "hookd: publisher is stopped"},
		{"ErrBrokerConnection", ErrBrokerConnection, "hookd: broker connection failed"},
		{"ErrBind", ErrBind, "hookd: cannot bind socket"},
		{"ErrConfigRequired", ErrConfigRequired, "hookd: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "hookd: logger is required"},
		{"ErrEnricherRequired", ErrEnricherRequired, "hookd: enricher is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "hookd: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		err := NewConfigValidationError(inner)
		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}

func TestBindErrorMatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("address already in use")
	err := error(&BindError{Path: "/tmp/hookd.sock", Err: cause})

	if !errors.Is(err, ErrBind) {
		t.Error("expected BindError to match ErrBind")
	}
	if !errors.Is(err, cause) {
		t.Error("expected BindError to match its cause")
	}
	if !strings.Contains(err.Error(), "/tmp/hookd.sock") {
		t.Errorf("expected path in message, got %q", err.Error())
	}
}

func TestQueryErrorIncludesStderr(t *testing.T) {
	err := error(&QueryError{
		Args:   []string{"rev-parse", "HEAD"},
		Dir:    "/repo",
		Stderr: "fatal: not a git repository",
		Err:    errors.New("exit status 128"),
	})

	if !errors.Is(err, ErrExternalQuery) {
		t.Error("expected QueryError to match ErrExternalQuery")
	}
	if !strings.Contains(err.Error(), "not a git repository") {
		t.Errorf("expected stderr in message, got %q", err.Error())
	}
}
