package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	configpkg "github.com/drblury/hookd/internal/runtime/config"
	"github.com/drblury/hookd/internal/runtime/enrich"
	errspkg "github.com/drblury/hookd/internal/runtime/errors"
	"github.com/drblury/hookd/internal/runtime/gitctx"
	"github.com/drblury/hookd/internal/runtime/listener"
	loggingpkg "github.com/drblury/hookd/internal/runtime/logging"
	metricspkg "github.com/drblury/hookd/internal/runtime/metrics"
	"github.com/drblury/hookd/internal/runtime/publisher"
	transportpkg "github.com/drblury/hookd/internal/runtime/transport"
)

const httpShutdownTimeout = 5 * time.Second

// ServiceDependencies holds optional collaborators. Leave fields nil to use
// the production defaults derived from the configuration.
type ServiceDependencies struct {
	// Dialer opens broker publishers. Defaults to transport.NewDialer.
	Dialer transportpkg.Dialer
	// GitRunner executes git queries. Defaults to gitctx.ExecRunner.
	GitRunner gitctx.Runner
	// Registry receives the pipeline collectors. Defaults to a private
	// registry that also carries the Go and process collectors.
	Registry *prometheus.Registry
}

// Service wires the listener, enricher, context cache and publisher into one
// daemon lifecycle.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	metrics   *metricspkg.Metrics
	registry  *prometheus.Registry
	cache     *gitctx.Cache
	enricher  *enrich.Enricher
	publisher *publisher.Publisher
	resources *resourceTracker

	mu            sync.Mutex
	cancel        context.CancelFunc
	stopRequested bool
	startedAt     time.Time
	listener      *listener.Listener
	httpAddr      net.Addr
}

// NewService builds a Service from conf. The configuration is validated
// here so Start only fails on environmental problems.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}

	log.Info("Creating hookd service", loggingpkg.LogFields{"config": conf.String()})

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metricspkg.New(registry)
	if err := m.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	dialer := deps.Dialer
	if dialer == nil {
		var err error
		dialer, err = transportpkg.NewDialer(conf, loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			return nil, err
		}
	}

	runner := deps.GitRunner
	if runner == nil {
		runner = gitctx.ExecRunner{Timeout: conf.GitTimeout}
	}

	resolver := gitctx.NewResolver(runner, log, m)
	cache := gitctx.NewCache(resolver, conf.GitCacheTTL, log, m)

	return &Service{
		Conf:     conf,
		Logger:   log,
		metrics:  m,
		registry: registry,
		cache:    cache,
		enricher: enrich.New(conf.AgentID, cache, m),
		publisher: publisher.New(dialer, conf.EventBufferSize, log,
			publisher.WithBackoff(conf.ReconnectBackoff),
			publisher.WithMetrics(m),
			publisher.WithMessagingSystem(messagingSystem(conf.Transport)),
		),
		resources: newResourceTracker(),
	}, nil
}

// Start binds the socket, writes the PID file and runs the pipeline until
// ctx is cancelled or Stop is called. Bind and PID file failures are
// returned before anything else starts.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.stopRequested {
		s.mu.Unlock()
		s.publisher.Stop()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	if err := prepareSocket(s.Conf.SocketPath, s.Logger); err != nil {
		return err
	}
	ln, err := listener.Listen(s.Conf.SocketPath, s.enricher, s.publisher, s.Logger, s.metrics)
	if err != nil {
		return err
	}
	if err := writePIDFile(s.Conf.PIDFile); err != nil {
		_ = ln.Close()
		return err
	}
	defer s.cleanup()

	var httpServer *http.Server
	if s.Conf.MetricsAddr != "" {
		httpServer, err = s.listenHTTP(s.Conf.MetricsAddr)
		if err != nil {
			_ = ln.Close()
			return err
		}
	}

	s.mu.Lock()
	s.listener = ln
	s.startedAt = time.Now()
	s.mu.Unlock()

	// The publisher outlives ctx so Stop can drain the queue.
	s.publisher.Start(context.WithoutCancel(ctx))
	s.Logger.Info("hookd started", loggingpkg.LogFields{
		"socket":    s.Conf.SocketPath,
		"exchange":  s.Conf.ExchangeName,
		"transport": s.Conf.Transport,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ln.Serve(gctx)
	})
	if httpServer != nil {
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	s.Logger.Info("Shutting down", nil)
	s.publisher.Stop()
	return err
}

// Stop requests shutdown. Start returns once the queue has been drained and
// the socket and PID files are removed. A Stop before Start makes Start
// return without binding anything.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopRequested = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Publisher exposes the publish queue, mainly for status reporting.
func (s *Service) Publisher() *publisher.Publisher {
	return s.publisher
}

// Metrics returns the pipeline collectors.
func (s *Service) Metrics() *metricspkg.Metrics {
	return s.metrics
}

// HTTPAddr is the bound metrics address, or nil when the endpoint is off or
// not yet started.
func (s *Service) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

func (s *Service) cleanup() {
	removeRuntimeFile(s.Conf.SocketPath, s.Logger)
	removeRuntimeFile(s.Conf.PIDFile, s.Logger)
	s.Logger.Info("hookd stopped", nil)
}

func (s *Service) listenHTTP(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics endpoint %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricspkg.Handler(s.registry))
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	s.httpAddr = ln.Addr()
	s.mu.Unlock()

	s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": ln.Addr().String()})
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": addr})
		}
	}()
	return server, nil
}

func messagingSystem(kind string) string {
	switch kind {
	case configpkg.TransportNATS:
		return "nats"
	case configpkg.TransportHTTP:
		return "http"
	case configpkg.TransportIO, configpkg.TransportChannel:
		return "local"
	default:
		return "rabbitmq"
	}
}
