package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

/* worker - runs the delivery workers and inspects the queues
 * Usage: worker run [--queue webhook --queue email] [--concurrency 5]
 *        worker stats
 */

func main() {
	cmd := &cli.Command{
		Name:  "worker",
		Usage: "Delivery workers for the dispatch job queues",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Consume queues until interrupted",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "queue",
						Aliases: []string{"q"},
						Usage:   "Queue to consume, repeatable (default: every queue)",
					},
					&cli.IntFlag{
						Name:    "concurrency",
						Aliases: []string{"c"},
						Usage:   "Consumers per queue (default: WORKER_CONCURRENCY)",
					},
					&cli.StringFlag{
						Name:  "worker-id",
						Usage: "Identity reported in heartbeats (default: hostname and a random suffix)",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Value: ":9091",
						Usage: "Address serving /metrics and the breaker admin routes; empty disables it",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runWorkers(ctx, runOptions{
						Queues:      cmd.StringSlice("queue"),
						Concurrency: int(cmd.Int("concurrency")),
						WorkerID:    cmd.String("worker-id"),
						MetricsAddr: cmd.String("metrics-addr"),
					})
				},
			},
			{
				Name:  "stats",
				Usage: "Print the job counts of every queue as JSON",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return printStats(ctx, os.Stdout)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
