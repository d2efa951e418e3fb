package envelope

type Type string

const (
	// Welcome is sent by the upstream when a session opens, carries client_id
	Welcome Type = "welcome"
	// GetPeers asks for the peer list, optionally around target_id
	GetPeers Type = "get_peers"
	Peers    Type = "peers"
	// GetRoutingStats asks for aggregated routing statistics
	GetRoutingStats Type = "get_routing_stats"
	RoutingStats    Type = "routing_stats"
	SendCommand     Type = "send_command"
	CommandResult   Type = "command_result"
	Ping            Type = "ping"
	Pong            Type = "pong"
	Error           Type = "error"
	// Connected and Disconnected are system notices, sent by the relay
	// to the downstream side only
	Connected    Type = "connected"
	Disconnected Type = "disconnected"
)

var known = map[Type]struct{}{
	Welcome:         {},
	GetPeers:        {},
	Peers:           {},
	GetRoutingStats: {},
	RoutingStats:    {},
	SendCommand:     {},
	CommandResult:   {},
	Ping:            {},
	Pong:            {},
	Error:           {},
	Connected:       {},
	Disconnected:    {},
}

// Known reports if t is part of the closed set understood by both ends
func (t Type) Known() bool {
	_, ok := known[t]
	return ok
}

// Peer descriptor as listed in a peers envelope
type Peer struct {
	PeerID     string   `json:"peer_id" toml:"peer_id"`
	DeviceID   string   `json:"device_id,omitempty" toml:"device_id"`
	Reputation uint64   `json:"reputation" toml:"reputation"`
	Role       string   `json:"role" toml:"role"`
	Addresses  []string `json:"addresses" toml:"addresses"`
}

type PeersPayload struct {
	Peers []Peer `json:"peers"`
}

type GetPeersPayload struct {
	TargetID string `json:"target_id"`
}

type LocalNode struct {
	DeviceID   string `json:"device_id" toml:"device_id"`
	Reputation uint64 `json:"reputation" toml:"reputation"`
	Role       string `json:"role" toml:"role"`
}

type SimulationData struct {
	HighRepSelectionRate float64 `json:"high_rep_selection_rate"`
	AdvantageRatio       float64 `json:"advantage_ratio"`
}

type RoutingStatsPayload struct {
	LocalNode              *LocalNode      `json:"local_node,omitempty"`
	TotalPeers             int             `json:"total_peers"`
	HighReputationPeers    int             `json:"high_reputation_peers"`
	LowReputationPeers     int             `json:"low_reputation_peers"`
	WeightedRoutingEnabled bool            `json:"weighted_routing_enabled"`
	ExpectedAdvantage      float64         `json:"expected_advantage"`
	SimulationData         *SimulationData `json:"simulation_data,omitempty"`
}

type SendCommandPayload struct {
	Command string `json:"command"`
	Target  string `json:"target"`
}

type CommandResultPayload struct {
	Command string `json:"command"`
	Target  string `json:"target"`
	Status  string `json:"status"`
}

// Notice is the payload of error, connected, disconnected and welcome
// envelopes
type Notice struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
