package main

import (
	"context"
	"os"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/shutdown"
	"github.com/baalimago/nexusrelay/cmd/debug"
	"github.com/baalimago/nexusrelay/cmd/probe"
	"github.com/baalimago/nexusrelay/cmd/relay"
	"github.com/baalimago/nexusrelay/cmd/upstream"
	"github.com/baalimago/nexusrelay/cmd/watch"
	"github.com/baalimago/wd-41/cmd"
	"github.com/baalimago/wd-41/cmd/version"
)

var commands = map[string]cmd.Command{
	"r|relay":    relay.Command(),
	"u|upstream": upstream.Command(),
	"w|watch":    watch.Command(),
	"p|probe":    probe.Command(),
	"d|debug":    debug.Command(),
	"v|version":  version.Command(),
}

const usage = `== NexusRelay ==

A relay in front of one upstream service. Discrete calls below /api/ are
forwarded as is, persistent sessions are paired one-to-one with sessions of
their own against the upstream and pumped in both directions.

Sessions which drop are reconnected with a linearly growing delay, up to a
bounded number of attempts.

Commands:
%v`

func run(args []string) int {
	ancli.Newline = true
	ancli.SetupSlog()
	version.Name = "NexusRelay"
	ctx, cancel := context.WithCancel(context.Background())
	exitCodeChan := make(chan int, 1)
	go func() {
		exitCodeChan <- cmd.Run(ctx, args, commands, usage)
		cancel()
	}()
	shutdown.MonitorV2(ctx, cancel)
	return <-exitCodeChan
}

func main() {
	os.Exit(run(os.Args))
}
