package probe

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
	"github.com/baalimago/nexusrelay/internal/envelope"
	"github.com/baalimago/nexusrelay/internal/peerservice"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ancli.Silent = true
	c := Command()
	out := &bytes.Buffer{}
	c.out = out
	if err := c.Flagset().Parse(args); err != nil {
		t.Fatal(err)
	}
	if err := c.Setup(context.Background()); err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	err := c.Run(context.Background())
	return out.String(), err
}

func TestCommand_Setup_ErrWhenFlagsetNil(t *testing.T) {
	if err := Command().Setup(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestCommand_AllHealthy(t *testing.T) {
	svc := peerservice.New(peerservice.NewDirectory(envelope.LocalNode{}, nil))
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()
	ws := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	out, err := run(t, "-upstreamHTTP", srv.URL, "-upstreamWS", ws, "-relay", ws)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "relay_session  connected\nupstream_http  connected\nupstream_ws    connected\n"
	testboil.FailTestIfDiff(t, out, want)
}

func TestCommand_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	out, err := run(t, "-upstreamHTTP", "http://"+addr, "-upstreamWS", "ws://"+addr+"/", "-timeout", "1s")
	if err == nil {
		t.Fatal("expected error")
	}
	testboil.AssertStringContains(t, err.Error(), "2 of 2")
	testboil.AssertStringContains(t, out, "upstream_http  disconnected")
}
