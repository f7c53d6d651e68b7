// Command chronicle runs the gateway as a standalone process. Grounded on
// the teacher's cmd/gateway-v2/main.go (godotenv, JSON slog handler, signal
// handling, 30s graceful shutdown timeout), restructured onto
// urfave/cli/v3 subcommands instead of a single main with no flags, and
// folding cmd/keygen's standalone hashing tool in as "chronicle keygen".
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/chronicle-run/chronicle/pkg/chronicle"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cmd := &cli.Command{
		Name:  "chronicle",
		Usage: "model-agnostic LLM gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to config.yaml or config.toml",
			},
		},
		Commands: []*cli.Command{
			serveCommand(logger),
			keygenCommand(),
		},
		Action: serveAction(logger),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("chronicle exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func serveCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "start the HTTP server (default when no subcommand is given)",
		Action: serveAction(logger),
	}
}

func serveAction(logger *slog.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		gw, err := chronicle.New(
			chronicle.WithConfigPath(cmd.String("config")),
			chronicle.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("create gateway: %w", err)
		}

		if err := gw.Start(ctx); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutdown signal received, stopping chronicle...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := gw.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown gateway: %w", err)
		}

		logger.Info("chronicle shutdown complete")
		return nil
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:      "keygen",
		Usage:     "print an API key's SHA-256 hex digest",
		ArgsUsage: "<api-key>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return fmt.Errorf("keygen: missing <api-key> argument")
			}
			key := cmd.Args().First()
			sum := sha256.Sum256([]byte(key))
			fmt.Printf("api key: %s\n", key)
			fmt.Printf("sha256:  %s\n", hex.EncodeToString(sum[:]))
			return nil
		},
	}
}
