// Package hookd is a local relay daemon for Claude Code hook events. Hook
// clients write one JSON envelope per line to a Unix socket; hookd resolves
// the git repository each event touched, derives a few facts from the tool
// payload and publishes a ToolMutationEvent to a durable RabbitMQ topic
// exchange with the routing key tool.mutation.<tool>.
//
// Service hosts the pipeline. A minimal setup loads Config from the
// environment, builds a Service and calls Start; the command in cmd/hookd
// does exactly that and also ships the "emit" client used as the hook
// command itself.
//
// # Pipeline
//
//   - listener: one goroutine per connection, lines processed in order,
//     malformed lines logged with a 200 character preview and skipped
//   - enrich: file path, extension and changed line count from tool_input,
//     repository context from a TTL cache keyed by git root
//   - publisher: bounded queue with non-blocking Submit (drop newest when
//     full), one goroutine that dials, publishes and redials after a fixed
//     backoff
//
// # Transports
//
// The publisher writes through a Dialer chosen by Config.Transport:
//   - amqp: Watermill AMQP publisher on a durable topic exchange (default)
//   - nats: core NATS, one subject per routing key
//   - http: POST to a webhook at <HOOKD_HTTP_URL>/<routing key>
//   - channel: in-process Go channel, useful for dry runs and tests
//   - io: JSON lines appended to a file for local inspection
//
// # Observability
//
// Logs are JSON via log/slog. When HOOKD_METRICS_ADDR is set the daemon
// serves Prometheus metrics on /metrics, a status document on /status and a
// broker health check on /healthz. Enrichment and publishing run inside
// OpenTelemetry spans.
package hookd
