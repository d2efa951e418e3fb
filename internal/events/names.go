package events

type Name string

const (
	// Connect fires when the session enters Connected. Data: ConnectInfo
	Connect Name = "connect"
	// Disconnect fires when the session leaves Connected, or a connect
	// attempt fails. Data: DisconnectInfo
	Disconnect Name = "disconnect"
	// Message fires for envelopes of unrecognized type. Data: envelope.Envelope
	Message Name = "message"
	// Error fires on server error notices and on undecodable frames.
	// Data: ErrorInfo
	Error Name = "error"
	// Welcome fires when the server assigns the client id. Data: string
	Welcome Name = "welcome"
	// Peers data: []envelope.Peer
	Peers Name = "peers"
	// RoutingStats data: envelope.RoutingStatsPayload
	RoutingStats Name = "routing_stats"
	// CommandResult data: envelope.CommandResultPayload
	CommandResult Name = "command_result"
	// Pong data: time.Time of the server timestamp
	Pong Name = "pong"
	// System fires on relay connected/disconnected notices. Data: SystemInfo
	System Name = "system"
)

var names = map[Name]struct{}{
	Connect:       {},
	Disconnect:    {},
	Message:       {},
	Error:         {},
	Welcome:       {},
	Peers:         {},
	RoutingStats:  {},
	CommandResult: {},
	Pong:          {},
	System:        {},
}

// Valid reports if n is part of the fixed set of events
func (n Name) Valid() bool {
	_, ok := names[n]
	return ok
}

type ConnectInfo struct {
	URL string
}

type DisconnectInfo struct {
	Code   int
	Reason string
	// Voluntary is true when the caller asked for the disconnect
	Voluntary bool
	// Final is true when no further reconnection will be attempted
	Final bool
}

type ErrorInfo struct {
	Message string
	Err     error
}

type SystemInfo struct {
	// Type is either "connected" or "disconnected"
	Type    string
	Message string
}
