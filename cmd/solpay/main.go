package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "solpay",
		Usage: "Solana Pay transfer pipeline CLI",
		Description: `A command-line tool for building, signing and submitting Solana Pay transfers.

Use this CLI to encode and decode payment URLs, build unsigned transactions,
pay them with a local keypair, and follow payments through the solpay server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Payment pipeline commands
			buildCommand(),
			signCommand(),
			payCommand(),
			submitCommand(),
			statusCommand(),
			inspectCommand(),
			// Solana Pay URL commands
			{
				Name:  "url",
				Usage: "Solana Pay URL commands",
				Subcommands: []*cli.Command{
					parseURLCommand(),
					encodeURLCommand(),
					newURLCommand(),
				},
			},
			// Payment event streaming commands
			{
				Name:  "events",
				Usage: "Payment event streaming commands",
				Subcommands: []*cli.Command{
					watchCommand(),
					subscribeCommand(),
				},
			},
			// Temporal workflow commands
			{
				Name:  "temporal",
				Usage: "Payment workflow inspection commands",
				Subcommands: []*cli.Command{
					awaitWorkflowCommand(),
					describeWorkflowCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "solpay server URL",
				EnvVars: []string{"SOLPAY_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "cluster",
				Usage:   "Solana cluster (mainnet-beta, devnet, testnet, localnet)",
				EnvVars: []string{"SOLANA_CLUSTER"},
				Value:   "devnet",
			},
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL, overrides --cluster (can be specified multiple times)",
				EnvVars: []string{"SOLANA_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "rpc-api-key",
				Usage:   "API key appended to the RPC URL",
				EnvVars: []string{"SOLANA_RPC_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "commitment",
				Usage:   "Target finality (confirmed or finalized)",
				EnvVars: []string{"SOLANA_COMMITMENT"},
				Value:   "confirmed",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "Log debug output to stderr",
			},
		},
	}
}

// newLogger returns a stderr logger that stays quiet unless --verbose is set.
func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelError
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
