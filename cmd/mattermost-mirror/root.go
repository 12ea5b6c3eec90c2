// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiku/mattermost-mirror/pkg/connector"
)

const shutdownTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mattermost-mirror",
		Short:        "Mirror Mattermost channels through incoming webhooks",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExampleConfigCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Mattermost and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := connector.LoadConfig(configPath)
			if err != nil {
				return err
			}
			log, err := cfg.Logger()
			if err != nil {
				return err
			}
			log.Info().
				Str("version", Tag).
				Str("commit", Commit).
				Str("build_time", BuildTime).
				Msg("Starting mattermost-mirror")

			mc, err := connector.NewMirrorConnector(cfg, *log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := mc.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()

			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			mc.Stop(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file. Missing keys are filled in from the example config.")
	return cmd
}

func newExampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example-config",
		Short: "Print the example config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), connector.ExampleConfig)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mattermost-mirror %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		},
	}
}
