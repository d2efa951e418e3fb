package debug

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/envelope"
)

// envCommand encodes an envelope, handy for feeding a session by hand
type envCommand struct {
	flagset  *flag.FlagSet
	clientID *string
	out      io.Writer

	typ     envelope.Type
	payload map[string]any
}

func envelopeCommand() *envCommand {
	return &envCommand{out: os.Stdout}
}

func (c *envCommand) Describe() string {
	return "encode an envelope: 'envelope [-clientID <id>] <type> [json payload]'"
}

func (c *envCommand) Help() string {
	return "Encode an envelope of <type>, with the fields of the optional json object payload, stamped with the current time."
}

func (c *envCommand) Flagset() *flag.FlagSet {
	fs := flag.NewFlagSet("envelope", flag.ContinueOnError)
	c.clientID = fs.String("clientID", "", "client id to stamp, null if empty")
	c.flagset = fs
	return fs
}

func (c *envCommand) Setup(ctx context.Context) error {
	if c.flagset == nil {
		return errors.New("flagset cant be nil")
	}
	args := c.flagset.Args()
	if len(args) == 0 || args[0] == "" {
		return errors.New("missing envelope type")
	}
	c.typ = envelope.Type(args[0])
	if !c.typ.Known() {
		ancli.Warnf("'%v' is not a known envelope type, encoding anyway", c.typ)
	}
	c.payload = nil
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &c.payload); err != nil {
			return fmt.Errorf("payload must be a json object: %w", err)
		}
	}
	return nil
}

func (c *envCommand) Run(ctx context.Context) error {
	var payload any
	if c.payload != nil {
		payload = c.payload
	}
	b, err := envelope.Encode(c.typ, *c.clientID, payload)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}
