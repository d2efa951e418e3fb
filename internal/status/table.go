package status

import (
	"maps"
	"sort"
	"sync"
)

// Well known entries of the table
const (
	UpstreamHTTP    = "upstream_http"
	UpstreamSession = "upstream_ws"
	RelaySession    = "relay_session"
)

// Table maps a logical service name to whether the last connection attempt
// to it succeeded. Writers are the components doing the connecting, readers
// only ever get snapshots.
type Table struct {
	mu        sync.RWMutex
	connected map[string]bool
}

func NewTable(services ...string) *Table {
	t := &Table{connected: make(map[string]bool, len(services))}
	for _, s := range services {
		t.connected[s] = false
	}
	return t
}

// Set the status of service. A nil table is tolerated so that components
// may run without one.
func (t *Table) Set(service string, connected bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected[service] = connected
}

// Snapshot returns a copy of the table
func (t *Table) Snapshot() map[string]bool {
	if t == nil {
		return map[string]bool{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.connected)
}

// Connected reports the status of service, false if unknown
func (t *Table) Connected(service string) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected[service]
}

// AllConnected is true if every known service is connected
func (t *Table) AllConnected() bool {
	snap := t.Snapshot()
	if len(snap) == 0 {
		return false
	}
	for _, c := range snap {
		if !c {
			return false
		}
	}
	return true
}

// Services sorted by name
func (t *Table) Services() []string {
	snap := t.Snapshot()
	ret := make([]string, 0, len(snap))
	for s := range snap {
		ret = append(ret, s)
	}
	sort.Strings(ret)
	return ret
}
