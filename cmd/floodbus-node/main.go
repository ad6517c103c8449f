// Command floodbus-node runs a single bus node with an interactive prompt,
// for trying out a network of nodes by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	floodbus "github.com/floodbus/go-floodbus"
	"github.com/floodbus/go-floodbus/metrics"
)

func main() {
	app := &cli.App{
		Name:  "floodbus-node",
		Usage: "run a floodbus node and send messages from a prompt",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "node identifier", Required: true},
			&cli.IntFlag{Name: "port", Usage: "tcp port to listen on", Value: floodbus.DefaultListenPort},
			&cli.IntFlag{Name: "ttl", Usage: "hop budget of published messages", Value: floodbus.DefaultInitialTTL},
			&cli.IntFlag{Name: "capacity", Usage: "delivery queue capacity", Value: floodbus.DefaultMessageCapacity},
			&cli.BoolFlag{Name: "no-forward", Usage: "do not relay received messages"},
			&cli.StringFlag{Name: "trace", Usage: "write a json event trace to `FILE`"},
			&cli.StringFlag{Name: "log-level", Usage: "log level (debug, info, warn, error)", Value: "error"},
			&cli.StringFlag{Name: "profile-dir", Usage: "write cpu and heap profiles to `DIR` on SIGUSR1"},
			&cli.DurationFlag{Name: "profile-duration", Usage: "length of the cpu profile", Value: 30 * time.Second},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if err := logging.SetLogLevel("floodbus", c.String("log-level")); err != nil {
		return err
	}

	if err := metrics.Register(); err != nil {
		return err
	}
	defer metrics.Unregister()

	if dir := c.String("profile-dir"); dir != "" {
		ctx, cancel := context.WithCancel(c.Context)
		defer cancel()
		watchProfileSignal(ctx, dir, c.Duration("profile-duration"))
	}

	opts := []floodbus.Option{
		floodbus.WithListenPort(c.Int("port")),
		floodbus.WithInitialTTL(c.Int("ttl")),
		floodbus.WithMessageCapacity(c.Int("capacity")),
		floodbus.WithForwarding(!c.Bool("no-forward")),
	}

	if path := c.String("trace"); path != "" {
		tr, err := floodbus.NewJSONTracer(path)
		if err != nil {
			return err
		}
		defer tr.Close()
		opts = append(opts, floodbus.WithEventTracer(tr))
	}

	bus, err := floodbus.New(c.String("id"), opts...)
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}
	defer bus.Close()

	bus.Subscribe(floodbus.NewHandler(TestMessageType, func(m TestMessage) {
		fmt.Printf("\rreceived test message: %s\n", m.Text)
	}))

	return newShell(bus, os.Stdout).run()
}
