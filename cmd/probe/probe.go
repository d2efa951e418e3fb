package probe

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/config"
	"github.com/baalimago/nexusrelay/internal/status"
	"github.com/baalimago/nexusrelay/internal/wsconn"
)

// command tests every connection once and prints the status table
type command struct {
	flagset      *flag.FlagSet
	configPath   *string
	upstreamHTTP *string
	upstreamWS   *string
	relayURL     *string
	timeout      *time.Duration

	cfg    config.Config
	out    io.Writer
	client *http.Client
	dialer wsconn.Dialer
}

func Command() *command {
	return &command{out: os.Stdout}
}

func (c *command) Describe() string {
	return "test the connections to upstream, and optionally to a relay, then print their status."
}

func (c *command) Help() string {
	return "Probe the upstream http service (GET <upstreamHTTP>/api/health), the upstream session service and, with -relay, the session path of a relay. Exits non-zero if any probe fails."
}

func (c *command) Flagset() *flag.FlagSet {
	d := config.Default()
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	c.configPath = fs.String("config", "", "path to a toml config file")
	c.upstreamHTTP = fs.String("upstreamHTTP", d.UpstreamHTTP, "base url of the upstream http service")
	c.upstreamWS = fs.String("upstreamWS", d.UpstreamWS, "url of the upstream session service")
	c.relayURL = fs.String("relay", "", "session url of a relay to probe as well, e.g. ws://localhost:3000/ws")
	c.timeout = fs.Duration("timeout", 5*time.Second, "timeout of each probe")
	c.flagset = fs
	return fs
}

func (c *command) Setup(ctx context.Context) error {
	if c.flagset == nil {
		return errors.New("flagset not set; use the Command function")
	}
	cfg, err := config.Load(*c.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Overlay(c.flagset); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	c.cfg = cfg
	c.client = &http.Client{Timeout: *c.timeout}
	c.dialer = wsconn.WebsocketDialer{Timeout: *c.timeout}
	return nil
}

func (c *command) Run(ctx context.Context) error {
	services := []string{status.UpstreamHTTP, status.UpstreamSession}
	if *c.relayURL != "" {
		services = append(services, status.RelaySession)
	}
	t := status.NewTable(services...)
	failures := map[string]error{}

	if err := status.ProbeHTTP(ctx, t, status.UpstreamHTTP, c.client, c.cfg.UpstreamHTTP); err != nil {
		failures[status.UpstreamHTTP] = err
	}
	if err := status.ProbeSession(ctx, t, status.UpstreamSession, c.dialer, c.cfg.UpstreamWS); err != nil {
		failures[status.UpstreamSession] = err
	}
	if *c.relayURL != "" {
		if err := status.ProbeSession(ctx, t, status.RelaySession, c.dialer, *c.relayURL); err != nil {
			failures[status.RelaySession] = err
		}
	}

	for _, s := range t.Services() {
		mark := "connected"
		if !t.Connected(s) {
			mark = "disconnected"
		}
		fmt.Fprintf(c.out, "%-14v %v\n", s, mark)
		if err, ok := failures[s]; ok {
			ancli.Errf("%v: %v", s, err)
		}
	}
	if !t.AllConnected() {
		return fmt.Errorf("%v of %v connections failed", len(failures), len(services))
	}
	ancli.Okf("all connections healthy")
	return nil
}
