package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/config"
	"github.com/baalimago/nexusrelay/internal/gateway"
	"github.com/baalimago/nexusrelay/internal/loghandler"
	sessionrelay "github.com/baalimago/nexusrelay/internal/relay"
	"github.com/baalimago/nexusrelay/internal/status"
	"github.com/baalimago/nexusrelay/internal/wsconn"
	wd41serve "github.com/baalimago/wd-41/cmd/serve"
)

const probeTimeout = 3 * time.Second

func (c *command) Setup(ctx context.Context) error {
	if c.flagset == nil {
		return errors.New("flagset not set; use the Command function")
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	c.cfg = cfg

	c.table = status.NewTable(status.UpstreamHTTP, status.UpstreamSession)
	c.dialer = wsconn.WebsocketDialer{
		Timeout:      cfg.DialTimeout.Duration,
		WriteTimeout: cfg.DialTimeout.Duration,
	}

	g, err := gateway.New(cfg.UpstreamHTTP,
		gateway.WithTimeout(cfg.GatewayTimeout.Duration),
		gateway.WithStatusTable(c.table),
	)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	c.gateway = g

	c.relay = sessionrelay.New(cfg.UpstreamWS,
		sessionrelay.WithDialer(c.dialer),
		sessionrelay.WithStatusTable(c.table),
		sessionrelay.WithSettings(relaySettings(cfg)),
	)
	return nil
}

// loadConfig layers the config file, if any, and then explicitly set flags
// over the defaults
func (c *command) loadConfig() (config.Config, error) {
	path := ""
	if c.configPath != nil {
		path = *c.configPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Overlay(c.flagset); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

func relaySettings(cfg config.Config) sessionrelay.Settings {
	return sessionrelay.Settings{
		Reconnect:   cfg.RelayReconnect,
		Policy:      cfg.Policy(),
		BacklogSize: cfg.BacklogSize,
		DialTimeout: cfg.DialTimeout.Duration,
	}
}

func (c *command) setupMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(c.cfg.APIPrefix, wd41serve.SlogHandler(c.gateway))
	mux.Handle(c.cfg.SessionPath, c.relay.Handler())
	mux.Handle("/status", wd41serve.SlogHandler(status.Handler(c.table, c.relay)))
	mux.Handle("/logs", loghandler.Func())
	return mux
}

// probeUpstream once at startup so the status table reflects reality before
// the first call arrives
func (c *command) probeUpstream(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	client := &http.Client{Timeout: probeTimeout}
	if err := status.ProbeHTTP(ctx, c.table, status.UpstreamHTTP, client, c.cfg.UpstreamHTTP); err != nil {
		ancli.Warnf("upstream http not reachable: %v", err)
	} else {
		ancli.Okf("upstream http reachable: '%v'", c.cfg.UpstreamHTTP)
	}
	if err := status.ProbeSession(ctx, c.table, status.UpstreamSession, c.dialer, c.cfg.UpstreamWS); err != nil {
		ancli.Warnf("upstream session service not reachable: %v", err)
	} else {
		ancli.Okf("upstream session service reachable: '%v'", c.cfg.UpstreamWS)
	}
}

// watchConfig pushes the reconnect policy of every reloaded config into the
// relay. Other settings need a restart.
func (c *command) watchConfig(ctx context.Context) {
	w, err := config.NewWatcher(*c.configPath)
	if err != nil {
		ancli.Errf("config reload disabled: %v", err)
		return
	}
	go func() {
		if err := w.Watch(ctx); err != nil {
			ancli.Errf("config watcher stopped: %v", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.Errors():
			ancli.Warnf("config watcher: %v", err)
		case cfg := <-w.Updates():
			if err := cfg.Overlay(c.flagset); err != nil {
				ancli.Warnf("config reload skipped: %v", err)
				continue
			}
			p := cfg.Policy()
			if err := p.Validate(); err != nil {
				ancli.Warnf("config reload skipped: %v", err)
				continue
			}
			s := c.relay.Settings()
			s.Policy = p
			c.relay.UpdateSettings(s)
			ancli.Okf("reconnect policy updated: %v attempts, %v base delay", p.MaxAttempts, p.BaseDelay)
		}
	}
}
