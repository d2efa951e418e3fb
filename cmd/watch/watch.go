package watch

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/debug"
	"github.com/baalimago/nexusrelay/internal/client"
	"github.com/baalimago/nexusrelay/internal/config"
	"github.com/baalimago/nexusrelay/internal/events"
	"github.com/baalimago/nexusrelay/internal/reconnect"
	"github.com/baalimago/nexusrelay/internal/wsconn"
)

var watched = []events.Name{
	events.Connect,
	events.Disconnect,
	events.Message,
	events.Error,
	events.Welcome,
	events.Peers,
	events.RoutingStats,
	events.CommandResult,
	events.Pong,
	events.System,
}

// command keeps a reconnecting session open against a relay and prints
// every event it sees
type command struct {
	flagset              *flag.FlagSet
	configPath           *string
	url                  *string
	maxReconnectAttempts *int
	reconnectBaseDelay   *time.Duration
	peers                *bool
	target               *string
	stats                *bool
	sendCommand          *string
	ping                 *time.Duration

	policy reconnect.Policy
	dialer wsconn.Dialer
	out    io.Writer
	outMu  sync.Mutex
}

func Command() *command {
	return &command{
		out:    os.Stdout,
		dialer: wsconn.WebsocketDialer{Timeout: 5 * time.Second, WriteTimeout: 5 * time.Second},
	}
}

func (c *command) Describe() string {
	return "open a reconnecting session against a relay and print every event."
}

func (c *command) Help() string {
	return "Watch a relay session. Requests are sent once the session is welcomed: -peers, -stats and -command. Reconnects follow -config or the reconnect flags."
}

func (c *command) Flagset() *flag.FlagSet {
	d := config.Default()
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	c.configPath = fs.String("config", "", "path to a toml config file, its reconnect policy is used")
	c.url = fs.String("url", fmt.Sprintf("ws://%v:%v%v", d.Host, d.Port, d.SessionPath), "session url of the relay")
	c.maxReconnectAttempts = fs.Int("maxReconnectAttempts", d.MaxReconnectAttempts, "reconnect attempts before giving up")
	c.reconnectBaseDelay = fs.Duration("reconnectBaseDelay", d.ReconnectBaseDelay.Duration, "delay before the first reconnect, attempt n waits n times this")
	c.peers = fs.Bool("peers", false, "request peers when welcomed")
	c.target = fs.String("target", "", "target id for -peers and -command")
	c.stats = fs.Bool("stats", false, "request routing stats when welcomed")
	c.sendCommand = fs.String("command", "", "command to send when welcomed")
	c.ping = fs.Duration("ping", 0, "ping interval, 0 disables")
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
	c.policy = cfg.Policy()
	if err := c.policy.Validate(); err != nil {
		return fmt.Errorf("invalid reconnect policy: %w", err)
	}
	return nil
}

func (c *command) print(ev events.Event) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, "%v [%v] %v\n", ev.At.Format(time.TimeOnly), ev.Name, debug.IndentedJsonFmt(ev.Data))
	return err
}

// onWelcome sends the requests asked for on the command line
func (c *command) onWelcome(cl *client.Client) events.Handler {
	return func(events.Event) error {
		var errs []error
		if *c.peers {
			errs = append(errs, cl.GetPeers(*c.target))
		}
		if *c.stats {
			errs = append(errs, cl.GetRoutingStats())
		}
		if *c.sendCommand != "" {
			errs = append(errs, cl.SendCommand(*c.sendCommand, *c.target))
		}
		return errors.Join(errs...)
	}
}

func (c *command) Run(ctx context.Context) error {
	cl := client.New(*c.url,
		client.WithDialer(c.dialer),
		client.WithPolicy(c.policy),
	)
	for _, name := range watched {
		if _, err := cl.Subscribe(name, c.print); err != nil {
			return fmt.Errorf("failed to subscribe to '%v': %w", name, err)
		}
	}
	if _, err := cl.Subscribe(events.Welcome, c.onWelcome(cl)); err != nil {
		return fmt.Errorf("failed to subscribe to welcome: %w", err)
	}
	gaveUp := make(chan struct{})
	var once sync.Once
	cl.Subscribe(events.Disconnect, func(ev events.Event) error {
		if info, ok := ev.Data.(events.DisconnectInfo); ok && info.Final && !info.Voluntary {
			once.Do(func() { close(gaveUp) })
		}
		return nil
	})

	if err := cl.Connect(ctx); err != nil {
		ancli.Warnf("initial connect failed: %v", err)
	}
	defer cl.Disconnect()

	var tick <-chan time.Time
	if *c.ping > 0 {
		t := time.NewTicker(*c.ping)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gaveUp:
			return fmt.Errorf("gave up on '%v' after %v attempts", *c.url, c.policy.MaxAttempts)
		case <-tick:
			if err := cl.Ping(); err != nil {
				ancli.Warnf("ping skipped: %v", err)
			}
		}
	}
}
