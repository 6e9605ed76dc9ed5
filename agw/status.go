package agw

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// statusSnapshot is the JSON body of a status-page response: a read-only
// view of one Server's live state, per SPEC_FULL.md §4.15. It never
// exposes a write path into the TNC.
type statusSnapshot struct {
	Host      string           `json:"host"`
	Port      int              `json:"port"`
	Listening bool             `json:"listening"`
	Calls     map[string]bool  `json:"calls"`
	Heard     []HeardEntry     `json:"heard,omitempty"`
}

// StatusHandler builds an http.Handler exposing s's live state at GET /status,
// grounded on core/application_agent_srest.go's small REST endpoint pattern
// but read-only. It is not started automatically; embed it in whatever
// http.Server or mux the application already runs.
func (s *Server) StatusHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	snap := statusSnapshot{
		Host:      s.host,
		Port:      s.port,
		Listening: s.listening,
		Calls:     make(map[string]bool, len(s.calls)),
	}
	for call, ok := range s.calls {
		snap.Calls[call] = ok
	}
	s.mu.Unlock()

	if s.heard != nil {
		snap.Heard = s.heard.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}
