package envelope

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t *testing.T, ts time.Time) {
	t.Helper()
	saved := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = saved })
}

func TestNew(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fixedNow(t, ts)

	t.Run("flattens payload next to type", func(t *testing.T) {
		b, err := Encode(SendCommand, "c1", SendCommandPayload{Command: "ls", Target: "peer-a"})
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, "send_command", got["type"])
		assert.Equal(t, "c1", got["client_id"])
		assert.Equal(t, "ls", got["command"])
		assert.Equal(t, "peer-a", got["target"])
		assert.Equal(t, "2025-03-01T12:00:00Z", got["timestamp"])
	})

	t.Run("empty client id is null", func(t *testing.T) {
		b, err := Encode(Ping, "", nil)
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(b, &got))
		v, ok := got["client_id"]
		assert.True(t, ok)
		assert.Nil(t, v)
	})

	t.Run("payload may not override reserved keys", func(t *testing.T) {
		e, err := New(Ping, "c1", map[string]any{"type": "pong", "client_id": "x", "extra": 1})
		require.NoError(t, err)
		assert.Equal(t, Ping, e.Type())
		assert.Equal(t, "c1", e.ClientID())
		_, ok := e.Raw("extra")
		assert.True(t, ok)
	})

	t.Run("non object payload errors", func(t *testing.T) {
		_, err := New(Ping, "", []int{1, 2})
		assert.Error(t, err)
	})
}

func TestDecode(t *testing.T) {
	t.Run("welcome from the peer service", func(t *testing.T) {
		e, err := Decode([]byte(`{"type":"welcome","client_id":"c1","message":"hi","timestamp":"2025-03-01T12:00:00Z"}`))
		require.NoError(t, err)
		assert.Equal(t, Welcome, e.Type())
		assert.Equal(t, "c1", e.ClientID())
		assert.True(t, e.HasClientID())
		assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), e.Timestamp())

		var n Notice
		require.NoError(t, e.Into(&n))
		assert.Equal(t, "hi", n.Message)
	})

	t.Run("unix seconds timestamp", func(t *testing.T) {
		e, err := Decode([]byte(`{"type":"pong","timestamp":1700000000}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), e.Timestamp().Unix())
		assert.False(t, e.HasClientID())
	})

	t.Run("unknown types decode", func(t *testing.T) {
		e, err := Decode([]byte(`{"type":"wormhole"}`))
		require.NoError(t, err)
		assert.False(t, e.Type().Known())
	})

	t.Run("peers payload", func(t *testing.T) {
		e, err := Decode([]byte(`{"type":"peers","peers":[{"peer_id":"a","reputation":800,"role":"Relay","addresses":["10.0.0.1:4000"]}]}`))
		require.NoError(t, err)
		var p PeersPayload
		require.NoError(t, e.Into(&p))
		require.Len(t, p.Peers, 1)
		assert.Equal(t, uint64(800), p.Peers[0].Reputation)
		assert.Equal(t, []string{"10.0.0.1:4000"}, p.Peers[0].Addresses)
	})

	malformed := []struct {
		name string
		in   string
	}{
		{"not json", `hello`},
		{"array", `[1,2]`},
		{"null", `null`},
		{"missing type", `{"client_id":"c1"}`},
		{"numeric type", `{"type":4}`},
		{"empty type", `{"type":""}`},
		{"numeric client id", `{"type":"ping","client_id":4}`},
		{"bad timestamp", `{"type":"ping","timestamp":"yesterday"}`},
	}
	for _, tt := range malformed {
		t.Run("malformed: "+tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestRoundTripKeepsFields(t *testing.T) {
	fixedNow(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	stats := RoutingStatsPayload{
		TotalPeers:             50,
		HighReputationPeers:    15,
		LowReputationPeers:     35,
		WeightedRoutingEnabled: true,
		ExpectedAdvantage:      1.5,
	}
	b, err := Encode(RoutingStats, "", stats)
	require.NoError(t, err)

	e, err := Decode(b)
	require.NoError(t, err)
	var got RoutingStatsPayload
	require.NoError(t, e.Into(&got))
	assert.Equal(t, stats, got)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), e.Timestamp())
}
