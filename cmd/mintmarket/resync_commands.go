package main

import (
	"fmt"
	"io"

	"github.com/brojonat/mintmarket/client"
	"github.com/urfave/cli/v2"
)

// remoteClient returns a client for --server-url; schedules live on the
// server, so these commands have no local mode.
func remoteClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set MINTMARKET_SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, nil, setupLogger(c.String("log-level"))), nil
}

func resyncCommands() *cli.Command {
	return &cli.Command{
		Name:  "resync",
		Usage: "Background view resync schedule for the server's account",
		Subcommands: []*cli.Command{
			{
				Name:  "schedule",
				Usage: "Create or update the resync schedule",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "interval",
						Aliases: []string{"i"},
						Usage:   "How often to rebuild both views (default: server setting)",
					},
				},
				Action: func(c *cli.Context) error {
					cl, err := remoteClient(c)
					if err != nil {
						return err
					}
					sched, err := cl.ScheduleResync(c.Context, c.Duration("interval"))
					if err != nil {
						return fmt.Errorf("failed to schedule resync: %w", err)
					}
					return emit(c, sched, func(w io.Writer) {
						fmt.Fprintf(w, "✓ Resyncing %s every %s\n", sched.Account, sched.Interval)
					})
				},
			},
			{
				Name:  "delete",
				Usage: "Remove the resync schedule",
				Action: func(c *cli.Context) error {
					cl, err := remoteClient(c)
					if err != nil {
						return err
					}
					if err := cl.DeleteResync(c.Context); err != nil {
						return fmt.Errorf("failed to delete resync schedule: %w", err)
					}
					fmt.Fprintln(c.App.Writer, "✓ Resync schedule deleted")
					return nil
				},
			},
		},
	}
}
