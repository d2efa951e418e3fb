// Package config loads the relay settings. Defaults are overlaid by a TOML
// file, which in turn is overlaid by command flags that were set explicitly.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/baalimago/nexusrelay/internal/envelope"
	"github.com/baalimago/nexusrelay/internal/reconnect"
	"github.com/pelletier/go-toml/v2"
)

// Duration reads "1.5s" style strings from TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Port         int    `toml:"port"`
	Host         string `toml:"host"`
	UpstreamHTTP string `toml:"upstream_http"`
	UpstreamWS   string `toml:"upstream_ws"`

	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReconnectBaseDelay   Duration `toml:"reconnect_base_delay"`

	APIPrefix      string   `toml:"api_prefix"`
	SessionPath    string   `toml:"session_path"`
	GatewayTimeout Duration `toml:"gateway_timeout"`
	DialTimeout    Duration `toml:"dial_timeout"`
	RelayReconnect bool     `toml:"relay_reconnect"`
	BacklogSize    int      `toml:"backlog_size"`

	Local envelope.LocalNode `toml:"local"`
	Peers []envelope.Peer    `toml:"peers"`
}

func Default() Config {
	return Config{
		Port:                 3000,
		Host:                 "localhost",
		UpstreamHTTP:         "http://localhost:5000",
		UpstreamWS:           "ws://localhost:5000",
		MaxReconnectAttempts: reconnect.DefaultMaxAttempts,
		ReconnectBaseDelay:   Duration{reconnect.DefaultBaseDelay},
		APIPrefix:            "/api/",
		SessionPath:          "/ws",
		GatewayTimeout:       Duration{10 * time.Second},
		DialTimeout:          Duration{5 * time.Second},
		RelayReconnect:       true,
		BacklogSize:          256,
		Local: envelope.LocalNode{
			DeviceID:   "local",
			Reputation: 500,
			Role:       "Idle",
		},
	}
}

// Load the defaults overlaid by the file at path. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %v", c.Port))
	}
	if err := checkURL(c.UpstreamHTTP, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("upstream_http: %w", err))
	}
	if err := checkURL(c.UpstreamWS, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("upstream_ws: %w", err))
	}
	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") || !strings.HasSuffix(c.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("api_prefix must start and end with '/', got: '%v'", c.APIPrefix))
	}
	if !strings.HasPrefix(c.SessionPath, "/") {
		errs = append(errs, fmt.Errorf("session_path must start with '/', got: '%v'", c.SessionPath))
	}
	if c.SessionPath == c.APIPrefix || strings.HasPrefix(c.SessionPath, c.APIPrefix) {
		errs = append(errs, fmt.Errorf("session_path '%v' overlaps api_prefix '%v'", c.SessionPath, c.APIPrefix))
	}
	if c.GatewayTimeout.Duration < 0 || c.DialTimeout.Duration < 0 {
		errs = append(errs, errors.New("timeouts may not be negative"))
	}
	if c.BacklogSize < 0 {
		errs = append(errs, fmt.Errorf("backlog_size may not be negative, got: %v", c.BacklogSize))
	}
	for i, p := range c.Peers {
		if strings.TrimSpace(p.PeerID) == "" {
			errs = append(errs, fmt.Errorf("peer[%d] missing peer_id", i))
		}
	}
	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in '%v'", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme of '%v' must be one of %v", raw, schemes)
}

// Policy for reconnecting, starting at attempt 0
func (c Config) Policy() reconnect.Policy {
	return reconnect.Policy{
		MaxAttempts: c.MaxReconnectAttempts,
		BaseDelay:   c.ReconnectBaseDelay.Duration,
	}
}

// Overlay every flag of fs which was set explicitly on the command line.
// Flags are matched by name, unknown names are left alone.
func (c *Config) Overlay(fs *flag.FlagSet) error {
	var errs []error
	fs.Visit(func(f *flag.Flag) {
		if err := c.apply(f.Name, f.Value.String()); err != nil {
			errs = append(errs, fmt.Errorf("flag -%v: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func (c *Config) apply(name, value string) error {
	var err error
	switch name {
	case "port":
		c.Port, err = strconv.Atoi(value)
	case "host":
		c.Host = value
	case "upstreamHTTP":
		c.UpstreamHTTP = value
	case "upstreamWS":
		c.UpstreamWS = value
	case "maxReconnectAttempts":
		c.MaxReconnectAttempts, err = strconv.Atoi(value)
	case "reconnectBaseDelay":
		err = c.ReconnectBaseDelay.UnmarshalText([]byte(value))
	case "apiPrefix":
		c.APIPrefix = value
	case "sessionPath":
		c.SessionPath = value
	case "gatewayTimeout":
		err = c.GatewayTimeout.UnmarshalText([]byte(value))
	case "dialTimeout":
		err = c.DialTimeout.UnmarshalText([]byte(value))
	case "relayReconnect":
		c.RelayReconnect, err = strconv.ParseBool(value)
	case "backlogSize":
		c.BacklogSize, err = strconv.Atoi(value)
	}
	return err
}
