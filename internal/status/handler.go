package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
)

// SessionInfo describes a relayed session, as exposed to status readers
type SessionInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// SessionLister is implemented by the session relay
type SessionLister interface {
	Sessions() []SessionInfo
}

type report struct {
	Connections  map[string]bool `json:"connections"`
	AllConnected bool            `json:"all_connected"`
	Sessions     []SessionInfo   `json:"sessions"`
	Timestamp    string          `json:"timestamp"`
}

// Handler serves a read-only snapshot of the table, and of the relayed
// sessions if lister is non-nil
func Handler(t *Table, lister SessionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rep := report{
			Connections:  t.Snapshot(),
			AllConnected: t.AllConnected(),
			Sessions:     []SessionInfo{},
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		}
		if lister != nil {
			rep.Sessions = append(rep.Sessions, lister.Sessions()...)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rep); err != nil {
			ancli.Warnf("failed to encode status report: %v", err)
		}
	}
}
