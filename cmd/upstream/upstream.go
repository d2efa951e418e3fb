package upstream

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/config"
	"github.com/baalimago/nexusrelay/internal/peerservice"
	wd41serve "github.com/baalimago/wd-41/cmd/serve"
)

// command serves the peer service, which relays pair their sessions with
type command struct {
	flagset    *flag.FlagSet
	configPath *string
	host       *string
	port       *int

	svc *peerservice.Service
	// listening receives the bound address once the server accepts
	listening chan string
}

func Command() *command {
	return &command{listening: make(chan string, 1)}
}

func (c *command) Describe() string {
	return "a reference upstream serving peer lookups and routing stats, both as sessions and over http."
}

func (c *command) Help() string {
	return "Serve the peer service. The peer directory is read from the [[peers]] table of -config <file.toml>, and [local] describes this node."
}

func (c *command) Flagset() *flag.FlagSet {
	fs := flag.NewFlagSet("upstream", flag.ContinueOnError)
	c.configPath = fs.String("config", "", "path to a toml config file holding [local] and [[peers]]")
	c.host = fs.String("host", "localhost", "hostname to serve on")
	c.port = fs.Int("port", 5000, "port to serve on")
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
	ancli.Noticef("peer directory: %v peers, local node: '%v'", len(cfg.Peers), cfg.Local.DeviceID)
	c.svc = peerservice.New(peerservice.NewDirectory(cfg.Local, cfg.Peers))
	return nil
}

func (c *command) Run(ctx context.Context) error {
	if c.svc == nil {
		return errors.New("c.Run called before c.Setup")
	}
	addr := fmt.Sprintf("%v:%v", *c.host, *c.port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on '%v': %w", addr, err)
	}
	h := c.svc.Handler()
	mux := http.NewServeMux()
	// sessions hijack the connection, so only the api is logged per request
	mux.Handle("/api/", wd41serve.SlogHandler(h))
	mux.Handle("/", h)
	s := http.Server{Handler: mux}
	ancli.Okf("Peer service started successfully:")
	ancli.Noticef("- URL: http://%v", l.Addr())
	ancli.Noticef("- Sessions: ws://%v/", l.Addr())
	select {
	case c.listening <- l.Addr().String():
	default:
	}

	serverErrChan := make(chan error, 1)
	go func() {
		err := s.Serve(l)
		if !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	var retErr error
	select {
	case <-ctx.Done():
	case retErr = <-serverErrChan:
	}
	ancli.PrintNotice("initiating peer service graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		ancli.Errf("failed to shutdown server: %v", err)
	}
	return retErr
}
