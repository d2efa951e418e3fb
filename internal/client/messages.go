package client

import (
	"fmt"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/envelope"
	"github.com/baalimago/nexusrelay/internal/events"
	"github.com/baalimago/nexusrelay/internal/wsconn"
)

// Send an envelope of type t. The envelope is stamped with the client id, if
// known, and the send time. Fails fast with ErrNotConnected, nothing is queued.
func (c *Client) Send(t envelope.Type, payload any) error {
	c.mu.Lock()
	if c.state != Connected || c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("send '%v': %w", t, ErrNotConnected)
	}
	conn := c.conn
	id := c.clientID
	c.mu.Unlock()

	b, err := envelope.Encode(t, id, payload)
	if err != nil {
		return fmt.Errorf("send '%v': %w", t, err)
	}
	if err := conn.WriteFrame(wsconn.Text(b)); err != nil {
		return fmt.Errorf("send '%v': %w", t, err)
	}
	return nil
}

func (c *Client) Ping() error {
	return c.Send(envelope.Ping, nil)
}

// GetPeers asks for the peers closest to targetID, empty for any
func (c *Client) GetPeers(targetID string) error {
	return c.Send(envelope.GetPeers, envelope.GetPeersPayload{TargetID: targetID})
}

func (c *Client) SendCommand(command, target string) error {
	return c.Send(envelope.SendCommand, envelope.SendCommandPayload{
		Command: command,
		Target:  target,
	})
}

func (c *Client) GetRoutingStats() error {
	return c.Send(envelope.GetRoutingStats, nil)
}

func (c *Client) handleFrame(conn wsconn.Conn, gen uint64, data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		ancli.Warnf("failed to decode frame from '%v': %v", c.url, err)
		c.replyMalformed(conn, err)
		c.dispatcher.Publish(events.Error, events.ErrorInfo{
			Message: "failed to decode frame",
			Err:     err,
		})
		return
	}

	switch env.Type() {
	case envelope.Welcome:
		c.mu.Lock()
		if gen == c.gen {
			c.clientID = env.ClientID()
		}
		c.mu.Unlock()
		ancli.Noticef("welcomed, client id: '%v'", env.ClientID())
		c.dispatcher.Publish(events.Welcome, env.ClientID())
	case envelope.Peers:
		var p envelope.PeersPayload
		if !c.into(env, &p) {
			return
		}
		if p.Peers == nil {
			p.Peers = []envelope.Peer{}
		}
		c.dispatcher.Publish(events.Peers, p.Peers)
	case envelope.RoutingStats:
		var s envelope.RoutingStatsPayload
		if !c.into(env, &s) {
			return
		}
		c.dispatcher.Publish(events.RoutingStats, s)
	case envelope.CommandResult:
		var r envelope.CommandResultPayload
		if !c.into(env, &r) {
			return
		}
		c.dispatcher.Publish(events.CommandResult, r)
	case envelope.Pong:
		c.dispatcher.Publish(events.Pong, env.Timestamp())
	case envelope.Error:
		var n envelope.Notice
		if !c.into(env, &n) {
			return
		}
		ancli.Errf("server error: %v", n.Message)
		c.dispatcher.Publish(events.Error, events.ErrorInfo{Message: n.Message})
	case envelope.Connected, envelope.Disconnected:
		var n envelope.Notice
		c.into(env, &n)
		c.dispatcher.Publish(events.System, events.SystemInfo{
			Type:    string(env.Type()),
			Message: n.Message,
		})
	default:
		ancli.Noticef("unrecognized message type: '%v'", env.Type())
		c.dispatcher.Publish(events.Message, env)
	}
}

// replyMalformed tells the other end its frame was dropped. The session is
// kept open.
func (c *Client) replyMalformed(conn wsconn.Conn, cause error) {
	c.mu.Lock()
	id := c.clientID
	c.mu.Unlock()
	b, err := envelope.Encode(envelope.Error, id, envelope.Notice{
		Message: "malformed message",
		Error:   cause.Error(),
	})
	if err != nil {
		ancli.Errf("failed to encode error reply: %v", err)
		return
	}
	if err := conn.WriteFrame(wsconn.Text(b)); err != nil {
		ancli.Warnf("failed to reply to malformed frame: %v", err)
	}
}

func (c *Client) into(env envelope.Envelope, out any) bool {
	if err := env.Into(out); err != nil {
		ancli.Warnf("malformed '%v' envelope: %v", env.Type(), err)
		c.dispatcher.Publish(events.Error, events.ErrorInfo{
			Message: fmt.Sprintf("malformed '%v' envelope", env.Type()),
			Err:     err,
		})
		return false
	}
	return true
}
