package runtime

import (
	"net/http"
	"sort"
	"strings"

	"github.com/drblury/procflow/internal/runtime/jsoncodec"
)

// ProcessWiring describes one process an adapter reported.
type ProcessWiring struct {
	AdapterID     string   `json:"adapterId"`
	ModuleID      string   `json:"moduleId"`
	ProcessID     string   `json:"processId"`
	VersionInfo   string   `json:"versionInfo,omitempty"`
	Service       string   `json:"service,omitempty"`
	AggregateType string   `json:"aggregateType,omitempty"`
	Primary       bool     `json:"primary"`
	Reference     bool     `json:"reference,omitempty"`
	StartMessages []string `json:"startMessages,omitempty"`
	StartSignals  []string `json:"startSignals,omitempty"`
}

// TaskWiring describes one wired task handler.
type TaskWiring struct {
	AdapterID      string `json:"adapterId"`
	ModuleID       string `json:"moduleId"`
	ProcessID      string `json:"processId"`
	TaskDefinition string `json:"taskDefinition,omitempty"`
	ElementID      string `json:"elementId,omitempty"`
	Handler        string `json:"handler"`

	Stats HandlerStatsSnapshot `json:"stats"`
}

// AggregateWiring describes the routing state of one aggregate type.
type AggregateWiring struct {
	AggregateType    string   `json:"aggregateType"`
	ModuleID         string   `json:"moduleId,omitempty"`
	PrimaryProcessID string   `json:"primaryProcessId,omitempty"`
	ProcessIDs       []string `json:"processIds,omitempty"`
	AdapterChain     []string `json:"adapterChain,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Wiring is a snapshot of everything adapters wired so far.
type Wiring struct {
	Adapters   []string          `json:"adapters"`
	Aggregates []AggregateWiring `json:"aggregates"`
	Processes  []ProcessWiring   `json:"processes"`
	Tasks      []TaskWiring      `json:"tasks"`
}

// Wiring returns the current wiring snapshot.
func (s *Service) Wiring() Wiring {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Wiring{
		Adapters:   s.adapters.Names(),
		Aggregates: make([]AggregateWiring, 0, len(s.dispatchers)),
		Processes:  append([]ProcessWiring(nil), s.processes...),
		Tasks:      make([]TaskWiring, 0, len(s.tasks)),
	}

	names := make([]string, 0, len(s.dispatchers))
	for name := range s.dispatchers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := s.dispatchers[name]
		aw := AggregateWiring{
			AggregateType:    name,
			ModuleID:         d.ModuleID(),
			PrimaryProcessID: d.PrimaryProcessID(),
			ProcessIDs:       d.ProcessIDs(),
		}
		if aw.PrimaryProcessID != "" {
			chain, err := d.AdapterChain()
			if err != nil {
				aw.Error = err.Error()
			}
			aw.AdapterChain = chain
		}
		out.Aggregates = append(out.Aggregates, aw)
	}

	for _, h := range s.tasks {
		out.Tasks = append(out.Tasks, TaskWiring{
			AdapterID:      h.adapterID,
			ModuleID:       h.moduleID,
			ProcessID:      h.connectable.ProcessID,
			TaskDefinition: h.connectable.TaskDefinition,
			ElementID:      h.connectable.ElementID,
			Handler:        h.Method(),
			Stats:          h.Stats(),
		})
	}
	return out
}

// StartWebUIServer mounts the wiring overview on the web UI port when enabled.
func (s *Service) StartWebUIServer() {
	if !s.Conf.WebUIEnabled {
		return
	}

	port := s.Conf.WebUIPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/wiring", http.HandlerFunc(s.handleGetWiring))
}

func (s *Service) handleGetWiring(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// Set CORS headers based on configuration
	if s.Conf != nil && len(s.Conf.WebUICORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	// Handle preflight requests
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, s.Wiring()); err != nil {
		s.Logger.Error("Failed to encode wiring", err, nil)
	}
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
