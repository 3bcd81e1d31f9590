// Package enrich turns raw hook envelopes into ToolMutationEvents by attaching
// repository context and a few fields derived from the tool payload.
package enrich

import (
	"context"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/hookd/internal/runtime/envelope"
	"github.com/drblury/hookd/internal/runtime/ids"
	"github.com/drblury/hookd/internal/runtime/jsoncodec"
	"github.com/drblury/hookd/internal/runtime/metrics"
)

const tracerName = "github.com/drblury/hookd/enrich"

// ContextSource resolves the repository context for a working directory.
// *gitctx.Cache is the production implementation.
type ContextSource interface {
	GetOrResolve(ctx context.Context, dir string) (envelope.RepoContext, bool)
}

// Enricher attaches repository context to envelopes.
type Enricher struct {
	agentID string
	source  ContextSource
	metrics *metrics.Metrics
	tracer  trace.Tracer
	newID   func() string
}

// New builds an Enricher stamping agentID on every event.
func New(agentID string, source ContextSource, m *metrics.Metrics) *Enricher {
	return &Enricher{
		agentID: agentID,
		source:  source,
		metrics: metrics.OrNew(m),
		tracer:  otel.Tracer(tracerName),
		newID:   ids.NewCorrelationID,
	}
}

// Enrich builds the ToolMutationEvent for env. It reports false when the
// working directory cannot be attributed to a repository; such events are
// of no use downstream and the caller is expected to drop them.
func (e *Enricher) Enrich(ctx context.Context, env envelope.HookEnvelope) (*envelope.ToolMutationEvent, bool) {
	ctx, span := e.tracer.Start(ctx, "hookd.enrich", trace.WithAttributes(
		attribute.String("hookd.tool_name", env.ToolName),
		attribute.String("hookd.hook_type", env.EventType),
	))
	defer span.End()

	input := toolInput(env.Payload)
	filePath := extractFilePath(input)

	workDir := "."
	if filePath != nil {
		workDir = filepath.Dir(*filePath)
	}

	repo, ok := e.source.GetOrResolve(ctx, workDir)
	if !ok {
		e.metrics.Unattributable.Inc()
		span.SetAttributes(attribute.Bool("hookd.attributed", false))
		return nil, false
	}
	span.SetAttributes(
		attribute.Bool("hookd.attributed", true),
		attribute.String("hookd.git_root", repo.GitRoot),
	)

	event := &envelope.ToolMutationEvent{
		EventType:     envelope.EventTypeFor(env.ToolName),
		HookType:      env.EventType,
		ToolName:      env.ToolName,
		AgentID:       e.agentID,
		Repo:          repo,
		FilePath:      filePath,
		FileExt:       fileExtension(filePath),
		LinesChanged:  linesChanged(input),
		RawPayload:    env.Payload,
		Timestamp:     env.Timestamp,
		SourcePID:     env.PID,
		CorrelationID: e.newID(),
	}
	e.metrics.Enriched.Inc()
	return event, true
}

// toolInput returns payload.tool_input as a generic map, or nil for any other
// payload shape.
func toolInput(payload []byte) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	var root map[string]any
	if err := jsoncodec.Unmarshal(payload, &root); err != nil {
		return nil
	}
	input, _ := root["tool_input"].(map[string]any)
	return input
}

var filePathKeys = []string{"file_path", "path", "notebook_path"}

// extractFilePath takes the first of file_path, path, notebook_path that is
// present. A present non-string value, null included, stops the search.
func extractFilePath(input map[string]any) *string {
	for _, key := range filePathKeys {
		raw, ok := input[key]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return nil
		}
		return &s
	}
	return nil
}

func fileExtension(path *string) *string {
	if path == nil {
		return nil
	}
	base := filepath.Base(*path)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return nil
	}
	// ".bashrc" has no extension; "name." has an empty one.
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return nil
	}
	ext := base[dot+1:]
	return &ext
}

// linesChanged estimates change size from content (Write) or new_string
// (Edit). It is a heuristic, not a diff.
func linesChanged(input map[string]any) *uint32 {
	for _, key := range []string{"content", "new_string"} {
		if s, ok := input[key].(string); ok {
			n := countLines(s)
			return &n
		}
	}
	return nil
}

// countLines counts lines the way a line iterator would: a trailing newline
// does not open a new line and "\r\n" counts as one terminator.
func countLines(s string) uint32 {
	if s == "" {
		return 0
	}
	n := uint32(strings.Count(s, "\n"))
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
