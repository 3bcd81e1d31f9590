package runtime

import (
	"net/http"
	"time"

	"github.com/drblury/hookd/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/hookd/internal/runtime/logging"
	"github.com/drblury/hookd/internal/runtime/publisher"
)

// Status is the JSON document served on /status.
type Status struct {
	State        string          `json:"state"`
	Exchange     string          `json:"exchange"`
	Transport    string          `json:"transport"`
	Socket       string          `json:"socket"`
	AgentID      string          `json:"agent_id"`
	QueueDepth   int             `json:"queue_depth"`
	QueueSize    int             `json:"queue_size"`
	CacheEntries int             `json:"cache_entries"`
	Publisher    publisher.Stats `json:"publisher"`
	Uptime       string          `json:"uptime"`
	Resources    ResourceUsage   `json:"resources"`
}

// Status snapshots the pipeline.
func (s *Service) Status() Status {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	var uptime time.Duration
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt).Round(time.Second)
	}

	return Status{
		State:        s.publisher.State().String(),
		Exchange:     s.Conf.ExchangeName,
		Transport:    s.Conf.Transport,
		Socket:       s.Conf.SocketPath,
		AgentID:      s.Conf.AgentID,
		QueueDepth:   s.publisher.Len(),
		QueueSize:    s.Conf.EventBufferSize,
		CacheEntries: s.cache.Len(),
		Publisher:    s.publisher.Stats(),
		Uptime:       uptime.String(),
		Resources:    s.resources.Snapshot(),
	}
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.Status())
}

// handleHealth reports 503 until the publisher has reached the broker.
func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.publisher.State()
	code := http.StatusOK
	if state != publisher.StateExchangeDeclared && state != publisher.StatePublishing {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status":    http.StatusText(code),
		"publisher": state.String(),
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		s.Logger.Error("Failed to encode response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		s.Logger.Debug("Failed to write response", loggingpkg.LogFields{"error": err.Error()})
	}
}
