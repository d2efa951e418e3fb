package relay

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/config"
	"github.com/baalimago/nexusrelay/internal/gateway"
	sessionrelay "github.com/baalimago/nexusrelay/internal/relay"
	"github.com/baalimago/nexusrelay/internal/status"
	"github.com/baalimago/nexusrelay/internal/wsconn"
)

const shutdownTimeout = 5 * time.Second

type command struct {
	binPath string

	flagset              *flag.FlagSet
	configPath           *string
	host                 *string
	port                 *int
	upstreamHTTP         *string
	upstreamWS           *string
	maxReconnectAttempts *int
	reconnectBaseDelay   *time.Duration
	relayReconnect       *bool

	cfg     config.Config
	table   *status.Table
	dialer  wsconn.Dialer
	gateway *gateway.Gateway
	relay   *sessionrelay.Relay

	// listening receives the bound address once the server accepts
	listening chan string
}

func Command() *command {
	r, _ := os.Executable()
	return &command{
		binPath:   r,
		listening: make(chan string, 1),
	}
}

func (c *command) startServeRoutine(mux *http.ServeMux, serverErrChan chan error) (func(context.Context) error, error) {
	addr := fmt.Sprintf("%v:%v", c.cfg.Host, c.cfg.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on '%v': %w", addr, err)
	}
	s := http.Server{
		Handler:     mux,
		ReadTimeout: 0,
	}

	ancli.Okf("Relay started successfully:")
	ancli.Noticef("- URL: http://%v", l.Addr())
	ancli.Noticef("- Gateway: '%v' -> '%v'", c.cfg.APIPrefix, c.cfg.UpstreamHTTP)
	ancli.Noticef("- Sessions: '%v' -> '%v'", c.cfg.SessionPath, c.cfg.UpstreamWS)
	ancli.Noticef("- Reconnect policy: %v attempts, %v base delay", c.cfg.MaxReconnectAttempts, c.cfg.ReconnectBaseDelay)

	select {
	case c.listening <- l.Addr().String():
	default:
	}

	go func() {
		err := s.Serve(l)
		if !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	return s.Shutdown, nil
}

func (c *command) Run(ctx context.Context) error {
	if c.relay == nil {
		return errors.New("c.Run called before c.Setup")
	}
	mux := c.setupMux()

	serverErrChan := make(chan error, 1)
	serverShutdown, err := c.startServeRoutine(mux, serverErrChan)
	if err != nil {
		return err
	}
	go c.probeUpstream(ctx)
	if *c.configPath != "" {
		go c.watchConfig(ctx)
	}

	var retErr error
	select {
	case <-ctx.Done():
	case serveErr := <-serverErrChan:
		retErr = serveErr
	}

	ancli.PrintNotice("initiating relay graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.relay.Shutdown(shutdownCtx); err != nil {
		ancli.Errf("failed to close relayed sessions: %v", err)
	}
	if err := serverShutdown(shutdownCtx); err != nil {
		ancli.Errf("failed to shutdown server: %v", err)
	}
	ancli.Okf("shutdown complete")
	return retErr
}

func (c *command) Help() string {
	return "Relay discrete calls and persistent sessions to one upstream. Settings are read from -config <file.toml>, explicitly set flags take precedence."
}

func (c *command) Describe() string {
	return fmt.Sprintf("a resilient relay in front of an upstream. Usage: '%v relay [-config <path>] [flags]'", c.binPath)
}

func (c *command) Flagset() *flag.FlagSet {
	d := config.Default()
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	c.configPath = fs.String("config", "", "path to a toml config file, reloaded on change")
	c.host = fs.String("host", d.Host, "hostname to serve on")
	c.port = fs.Int("port", d.Port, "port to serve on")
	c.upstreamHTTP = fs.String("upstreamHTTP", d.UpstreamHTTP, "base url of the upstream http service")
	c.upstreamWS = fs.String("upstreamWS", d.UpstreamWS, "url of the upstream session service")
	c.maxReconnectAttempts = fs.Int("maxReconnectAttempts", d.MaxReconnectAttempts, "reconnect attempts before giving up on upstream")
	c.reconnectBaseDelay = fs.Duration("reconnectBaseDelay", d.ReconnectBaseDelay.Duration, "delay before the first reconnect, attempt n waits n times this")
	c.relayReconnect = fs.Bool("relayReconnect", d.RelayReconnect, "reconnect upstream when it drops while the downstream is still open")

	c.flagset = fs
	return fs
}
