package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
	"github.com/baalimago/nexusrelay/internal/envelope"
	"github.com/baalimago/nexusrelay/internal/events"
	"github.com/baalimago/nexusrelay/internal/peerservice"
	"github.com/baalimago/nexusrelay/internal/testutil/schedtest"
	"github.com/baalimago/nexusrelay/internal/wsconn"
)

func TestClient_EndToEnd(t *testing.T) {
	ancli.Silent = true
	peers := []envelope.Peer{
		{PeerID: "alpha", DeviceID: "01", Reputation: 850, Role: "Relay", Addresses: []string{"10.1.0.1:4000"}},
		{PeerID: "beta", DeviceID: "02", Reputation: 300, Role: "Idle", Addresses: []string{"10.1.0.2:4000", "10.1.0.3:4000"}},
	}
	svc := peerservice.New(
		peerservice.NewDirectory(envelope.LocalNode{DeviceID: "self"}, peers),
		peerservice.WithClientIDs(func() string { return "c1" }),
	)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := New(url,
		WithDialer(wsconn.WebsocketDialer{Timeout: time.Second}),
		WithScheduler(schedtest.New()),
	)
	rec := record(t, c, events.Connect, events.Welcome, events.Peers, events.Error)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Disconnect()

	testboil.FailTestIfDiff(t, rec.next(t).Name, events.Connect)
	welcome := rec.next(t)
	testboil.FailTestIfDiff(t, welcome.Name, events.Welcome)
	testboil.FailTestIfDiff(t, welcome.Data.(string), "c1")
	testboil.FailTestIfDiff(t, c.ClientID(), "c1")

	if err := c.GetPeers(""); err != nil {
		t.Fatalf("GetPeers failed: %v", err)
	}
	ev := rec.next(t)
	testboil.FailTestIfDiff(t, ev.Name, events.Peers)
	got := ev.Data.([]envelope.Peer)
	testboil.FailTestIfDiff(t, len(got), 2)
	testboil.FailTestIfDiff(t, got[0].PeerID, "alpha")
	testboil.FailTestIfDiff(t, got[1].PeerID, "beta")
	testboil.FailTestIfDiff(t, strings.Join(got[1].Addresses, ","), "10.1.0.2:4000,10.1.0.3:4000")
}
