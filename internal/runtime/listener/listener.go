// Package listener accepts hook clients on a Unix socket and feeds every
// line they send through enrichment into the publish queue.
package listener

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/drblury/hookd/internal/runtime/envelope"
	errspkg "github.com/drblury/hookd/internal/runtime/errors"
	"github.com/drblury/hookd/internal/runtime/logging"
	"github.com/drblury/hookd/internal/runtime/metrics"
)

// MaxLineSize bounds a single envelope line. Longer lines are skipped and the
// connection keeps reading.
const MaxLineSize = envelope.MaxLineSize

const readBufferSize = 64 * 1024

const acceptRetryDelay = 100 * time.Millisecond

// Enricher attaches repository context to an envelope.
type Enricher interface {
	Enrich(ctx context.Context, env envelope.HookEnvelope) (*envelope.ToolMutationEvent, bool)
}

// Sink accepts enriched events without blocking.
type Sink interface {
	Submit(event *envelope.ToolMutationEvent) bool
}

// Listener serves the hook socket.
type Listener struct {
	path     string
	ln       net.Listener
	enricher Enricher
	sink     Sink
	logger   logging.ServiceLogger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen binds path as a Unix stream socket. The caller removes stale socket
// files beforehand; a path that is still in use fails with *BindError.
func Listen(path string, enricher Enricher, sink Sink, logger logging.ServiceLogger, m *metrics.Metrics) (*Listener, error) {
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, &errspkg.BindError{Path: path, Err: err}
	}
	return &Listener{
		path:     path,
		ln:       ln,
		enricher: enricher,
		sink:     sink,
		logger:   logger.With(logging.LogFields{"component": "listener"}),
		metrics:  metrics.OrNew(m),
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Path is the socket path the listener is bound to.
func (l *Listener) Path() string {
	return l.path
}

// Serve accepts connections until ctx is cancelled or Close is called, then
// waits for the connection goroutines to finish. It returns nil on a normal
// shutdown.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	l.logger.Info("Listening for hook events", logging.LogFields{"socket": l.path})

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			l.logger.Error("Accept failed", err, nil)
			select {
			case <-ctx.Done():
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		if !l.track(conn) {
			_ = conn.Close()
			break
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.untrack(conn)
			l.handle(ctx, conn)
		}()
	}

	l.wg.Wait()
	return nil
}

// Close stops accepting and interrupts reads on open connections so their
// goroutines finish the line in hand and exit.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for conn := range l.conns {
		_ = conn.SetReadDeadline(time.Now())
	}
	l.mu.Unlock()

	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[conn] = struct{}{}
	l.metrics.ConnectionsAccepted.Inc()
	l.metrics.ConnectionsActive.Inc()
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
	l.metrics.ConnectionsActive.Dec()
	_ = conn.Close()
}

// handle processes one client's lines in order. Any read error, EOF
// included, ends only this connection.
func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReaderSize(conn, readBufferSize)

	for {
		line, size, err := readLine(reader, MaxLineSize)
		if err != nil && !errors.Is(err, io.EOF) {
			if !isShutdownRead(err) {
				l.logger.Warn("Hook connection read failed", logging.LogFields{"error": err.Error()})
			}
			return
		}

		switch {
		case size > MaxLineSize:
			l.metrics.LinesReceived.Inc()
			l.rejectLine(envelope.NewOversizeError(line, size))
		case len(bytes.TrimSpace(line)) > 0:
			l.metrics.LinesReceived.Inc()
			l.process(ctx, line)
		}

		if err != nil {
			return
		}
	}
}

// readLine returns the next line without its terminator and the line's full
// size. Past limit the rest of the line is read and discarded, so only its
// head is returned. A final unterminated line comes back with io.EOF.
func readLine(r *bufio.Reader, limit int) ([]byte, int, error) {
	var line []byte
	size := 0
	for {
		chunk, err := r.ReadSlice('\n')
		size += len(chunk)
		if len(line) <= limit {
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if err == nil {
			size--
			line = bytes.TrimSuffix(line, []byte("\n"))
		}
		if len(line) == size && bytes.HasSuffix(line, []byte("\r")) {
			size--
			line = line[:size]
		}
		return line, size, err
	}
}

func (l *Listener) rejectLine(decodeErr *envelope.DecodeError) {
	l.metrics.DecodeErrors.Inc()
	l.logger.Warn("Failed to parse hook envelope", logging.LogFields{
		"error": decodeErr.Error(),
		"line":  decodeErr.Preview,
	})
}

func (l *Listener) process(ctx context.Context, line []byte) {
	env, err := envelope.Decode(line)
	if err != nil {
		var decodeErr *envelope.DecodeError
		if !errors.As(err, &decodeErr) {
			decodeErr = &envelope.DecodeError{Preview: envelope.Preview(line), Err: err}
		}
		l.rejectLine(decodeErr)
		return
	}

	event, ok := l.enricher.Enrich(ctx, env)
	if !ok {
		l.logger.Warn("Failed to enrich event, dropping", logging.LogFields{
			"tool_name": env.ToolName,
			"reason":    errspkg.ErrUnattributable.Error(),
		})
		return
	}

	// Submit logs its own drops.
	l.sink.Submit(event)
}

func isShutdownRead(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
