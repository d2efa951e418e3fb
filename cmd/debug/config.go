package debug

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/baalimago/go_away_boilerplate/pkg/debug"
	"github.com/baalimago/nexusrelay/internal/config"
)

// cfgCommand prints the settings a relay would run with
type cfgCommand struct {
	flagset    *flag.FlagSet
	configPath *string
	out        io.Writer
	cfg        config.Config
}

func configCommand() *cfgCommand {
	return &cfgCommand{out: os.Stdout}
}

func (c *cfgCommand) Describe() string {
	return "print the effective settings, defaults overlaid by -config"
}

func (c *cfgCommand) Help() string {
	return "Load -config <file.toml> over the defaults, validate it and print the result as json."
}

func (c *cfgCommand) Flagset() *flag.FlagSet {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	c.configPath = fs.String("config", "", "path to a toml config file")
	c.flagset = fs
	return fs
}

func (c *cfgCommand) Setup(ctx context.Context) error {
	if c.flagset == nil {
		return errors.New("flagset cant be nil")
	}
	cfg, err := config.Load(*c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func (c *cfgCommand) Run(ctx context.Context) error {
	_, err := fmt.Fprintln(c.out, debug.IndentedJsonFmt(c.cfg))
	return err
}
