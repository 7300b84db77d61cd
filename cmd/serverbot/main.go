package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/serverbot/internal/app"
	"github.com/vovakirdan/serverbot/internal/config"
	applog "github.com/vovakirdan/serverbot/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "serverbot",
		Short:         "Publishes a game server's status as a chat presence",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		// no or unknown subcommand: print usage and exit cleanly
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Unknown command %q\n\n", args[0])
			}
			return cmd.Usage()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Starts the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
}

func run(ctx context.Context) error {
	bootLogger := applog.New("info")
	cfg, cfgPath, err := config.Load(bootLogger, "")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := applog.New(cfg.LogLevel)
	logger.Info().
		Str("config", cfgPath).
		Str("server", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)).
		Msg("starting serverbot")

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("bot exited with error: %w", err)
	}
	logger.Info().Msg("bot stopped")
	return nil
}
