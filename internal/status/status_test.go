package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
	"github.com/baalimago/nexusrelay/internal/wsconn"
	"golang.org/x/net/websocket"
)

func TestTable(t *testing.T) {
	t.Run("starts disconnected", func(t *testing.T) {
		tbl := NewTable(UpstreamHTTP, UpstreamSession)
		testboil.FailTestIfDiff(t, tbl.Connected(UpstreamHTTP), false)
		testboil.FailTestIfDiff(t, tbl.AllConnected(), false)
		testboil.FailTestIfDiff(t, strings.Join(tbl.Services(), ","), "upstream_http,upstream_ws")
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		tbl := NewTable(UpstreamHTTP)
		snap := tbl.Snapshot()
		snap[UpstreamHTTP] = true
		testboil.FailTestIfDiff(t, tbl.Connected(UpstreamHTTP), false)
	})

	t.Run("all connected", func(t *testing.T) {
		tbl := NewTable(UpstreamHTTP, UpstreamSession)
		tbl.Set(UpstreamHTTP, true)
		tbl.Set(UpstreamSession, true)
		testboil.FailTestIfDiff(t, tbl.AllConnected(), true)
		tbl.Set(UpstreamSession, false)
		testboil.FailTestIfDiff(t, tbl.AllConnected(), false)
	})

	t.Run("nil table is tolerated", func(t *testing.T) {
		var tbl *Table
		tbl.Set(UpstreamHTTP, true)
		testboil.FailTestIfDiff(t, tbl.Connected(UpstreamHTTP), false)
		testboil.FailTestIfDiff(t, len(tbl.Snapshot()), 0)
	})
}

type staticLister []SessionInfo

func (s staticLister) Sessions() []SessionInfo {
	return s
}

func TestHandler(t *testing.T) {
	tbl := NewTable(UpstreamHTTP)
	tbl.Set(UpstreamHTTP, true)
	h := Handler(tbl, staticLister{{ID: "client_1", State: "paired"}})

	t.Run("get returns snapshot", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		testboil.FailTestIfDiff(t, rec.Code, http.StatusOK)
		var got report
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		testboil.FailTestIfDiff(t, got.Connections[UpstreamHTTP], true)
		testboil.FailTestIfDiff(t, got.AllConnected, true)
		testboil.FailTestIfDiff(t, len(got.Sessions), 1)
		testboil.FailTestIfDiff(t, got.Sessions[0].State, "paired")
	})

	t.Run("post is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
		testboil.FailTestIfDiff(t, rec.Code, http.StatusMethodNotAllowed)
	})
}

func TestProbeHTTP(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    bool
	}{
		{
			name: "healthy",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"healthy"}`))
			},
			want: true,
		},
		{
			name: "degraded",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"degraded"}`))
			},
			want: false,
		},
		{
			name: "500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/health", tt.handler)
			srv := httptest.NewServer(mux)
			defer srv.Close()

			tbl := NewTable()
			err := ProbeHTTP(context.Background(), tbl, UpstreamHTTP, srv.Client(), srv.URL)
			testboil.FailTestIfDiff(t, err == nil, tt.want)
			testboil.FailTestIfDiff(t, tbl.Connected(UpstreamHTTP), tt.want)
		})
	}
}

func TestProbeSession(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		ws.Close()
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	tbl := NewTable()

	if err := ProbeSession(context.Background(), tbl, UpstreamSession, wsconn.WebsocketDialer{}, url); err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}
	testboil.FailTestIfDiff(t, tbl.Connected(UpstreamSession), true)

	srv.Close()
	if err := ProbeSession(context.Background(), tbl, UpstreamSession, wsconn.WebsocketDialer{}, url); err == nil {
		t.Fatal("expected probe against closed server to fail")
	}
	testboil.FailTestIfDiff(t, tbl.Connected(UpstreamSession), false)
}
