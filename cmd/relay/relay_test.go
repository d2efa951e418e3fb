package relay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
	"github.com/baalimago/nexusrelay/internal/envelope"
	"github.com/baalimago/nexusrelay/internal/peerservice"
	"github.com/baalimago/nexusrelay/internal/status"
	"golang.org/x/net/websocket"
)

func setupCommand(t *testing.T, args ...string) *command {
	t.Helper()
	ancli.Silent = true
	c := Command()
	fs := c.Flagset()
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	if err := c.Setup(context.Background()); err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	return c
}

func Test_Setup(t *testing.T) {
	t.Run("error if flagset is not set", func(t *testing.T) {
		c := &command{}
		if err := c.Setup(context.Background()); err == nil {
			t.Error("expected error for nil flagset")
		}
	})

	t.Run("defaults without config", func(t *testing.T) {
		c := setupCommand(t)
		testboil.FailTestIfDiff(t, c.cfg.Port, 3000)
		testboil.FailTestIfDiff(t, c.cfg.UpstreamWS, "ws://localhost:5000")
		testboil.FailTestIfDiff(t, c.relay.Settings().Policy.MaxAttempts, 5)
	})

	t.Run("flags override config file", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "relay.toml")
		os.WriteFile(p, []byte("port = 4000\nmax_reconnect_attempts = 9\nupstream_ws = \"ws://backend:1\"\n"), 0o644)
		c := setupCommand(t, "-config", p, "-port", "4100")
		testboil.FailTestIfDiff(t, c.cfg.Port, 4100)
		testboil.FailTestIfDiff(t, c.cfg.MaxReconnectAttempts, 9)
		testboil.FailTestIfDiff(t, c.cfg.UpstreamWS, "ws://backend:1")
		testboil.FailTestIfDiff(t, c.relay.Settings().Policy.MaxAttempts, 9)
	})

	t.Run("invalid flag value", func(t *testing.T) {
		c := Command()
		fs := c.Flagset()
		_ = fs.Parse([]string{"-maxReconnectAttempts", "0"})
		err := c.Setup(context.Background())
		if err == nil {
			t.Fatal("expected error")
		}
		testboil.AssertStringContains(t, err.Error(), "max attempts")
	})

	t.Run("missing config file", func(t *testing.T) {
		c := Command()
		fs := c.Flagset()
		_ = fs.Parse([]string{"-config", filepath.Join(t.TempDir(), "nope.toml")})
		if err := c.Setup(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func startUpstream(t *testing.T) (httpURL, wsURL string) {
	t.Helper()
	svc := peerservice.New(
		peerservice.NewDirectory(envelope.LocalNode{DeviceID: "self"}, []envelope.Peer{{PeerID: "alpha", Reputation: 900}}),
		peerservice.WithClientIDs(func() string { return "c1" }),
	)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return srv.URL, "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func waitListening(t *testing.T, c *command) string {
	t.Helper()
	select {
	case addr := <-c.listening:
		return addr
	case <-time.After(2 * time.Second):
		t.Fatal("relay never started listening")
	}
	return ""
}

func Test_Run(t *testing.T) {
	httpURL, wsURL := startUpstream(t)
	c := setupCommand(t, "-port", "0", "-host", "127.0.0.1", "-upstreamHTTP", httpURL, "-upstreamWS", wsURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()
	addr := waitListening(t, c)

	t.Run("gateway forwards", func(t *testing.T) {
		resp, err := http.Get("http://" + addr + "/api/health")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		testboil.FailTestIfDiff(t, resp.StatusCode, http.StatusOK)
		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		testboil.FailTestIfDiff(t, body["status"], any("healthy"))
	})

	t.Run("session is relayed", func(t *testing.T) {
		ws, err := websocket.Dial("ws://"+addr+"/ws", "", "http://localhost/")
		if err != nil {
			t.Fatal(err)
		}
		defer ws.Close()
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var types []envelope.Type
		for range 2 {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				t.Fatal(err)
			}
			e, err := envelope.Decode([]byte(msg))
			if err != nil {
				t.Fatal(err)
			}
			types = append(types, e.Type())
		}
		testboil.FailTestIfDiff(t, types[0], envelope.Connected)
		testboil.FailTestIfDiff(t, types[1], envelope.Welcome)
	})

	t.Run("status reports upstream", func(t *testing.T) {
		resp, err := http.Get("http://" + addr + "/status")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var rep struct {
			Connections map[string]bool `json:"connections"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
			t.Fatal(err)
		}
		testboil.FailTestIfDiff(t, rep.Connections[status.UpstreamHTTP], true)
		testboil.FailTestIfDiff(t, rep.Connections[status.UpstreamSession], true)
	})

	t.Run("client logs are accepted", func(t *testing.T) {
		resp, err := http.Post("http://"+addr+"/logs", "application/json", strings.NewReader(`{"level":"info","message":"hello"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		testboil.FailTestIfDiff(t, resp.StatusCode, http.StatusNoContent)
	})

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("unexpected error during Run: %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func Test_Run_ListenFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	c := setupCommand(t, "-host", "127.0.0.1", "-port", strconv.Itoa(port))
	err = c.Run(context.Background())
	if err == nil {
		t.Fatal("expected listen error")
	}
	testboil.AssertStringContains(t, err.Error(), "failed to listen")
}

func Test_Run_BeforeSetup(t *testing.T) {
	c := Command()
	c.Flagset()
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
