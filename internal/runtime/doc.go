/*
Package runtime provides the hookd daemon: a local relay that reads hook
events from a Unix socket, attaches git repository context and publishes the
result to a durable topic exchange.

# Architecture Overview

Events flow through three stages, each owned by a sub-package:

	socket line -> listener -> enrich (gitctx cache) -> publisher queue -> broker

The listener runs one goroutine per client connection and processes lines in
order. Enrichment is synchronous on that goroutine; the only shared mutable
state is the repository context cache. The publisher owns a bounded queue and
a single goroutine that dials, publishes and redials after a fixed backoff.

## Core Service (service.go)

The Service struct wires together:
  - the Unix socket listener
  - the git context resolver and its TTL cache
  - the enricher
  - the publisher and its transport dialer
  - an optional HTTP endpoint for metrics, status and health

## Runtime files (runfiles.go)

Stale socket detection, socket directory creation and the PID file.

## Status (status.go, resources.go)

JSON status document with queue, cache and publisher counters plus a coarse
resource usage sample.

# Sub-packages

  - config/: environment configuration with validation
  - envelope/: wire input and output types and line decoding
  - enrich/: envelope to ToolMutationEvent
  - errors/: sentinel errors and error types
  - gitctx/: git queries and the per-root cache
  - ids/: ULID message ids and UUID correlation ids
  - jsoncodec/: JSON marshaling utilities
  - listener/: socket accept loop
  - logging/: logger interface and adapters
  - metadata/: AMQP header helpers
  - metrics/: Prometheus collectors
  - publisher/: bounded queue and publish loop
  - transport/: broker dialers (AMQP, in-process channel, file)

# Usage Example

	conf, _ := config.Load()
	svc, err := runtime.NewService(conf, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	return svc.Start(ctx)
*/
package runtime
