package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaywire/relaywire/internal/config"
	"github.com/relaywire/relaywire/internal/db"
	"github.com/relaywire/relaywire/internal/orchestrator"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the forwarding daemon",
		Long:  "Starts the dispatcher, worker pool, health monitor, cleanup schedule, and ops server, and runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaywire.yaml", "path to RelayWire config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Database, err)
	}

	orch, err := orchestrator.New(orchestrator.Opts{
		Config: cfg,
		DB:     gormDB,
		Out:    cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return orch.Run(ctx)
}
