package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flotilla-run/flotilla/internal/supervisor"
	"github.com/flotilla-run/flotilla/pkg/logger"
)

var upDetach bool

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the stack in dependency order",
	Long: `Create the project network and volumes, then start every service
batch by batch. Services with a health check only count as up after their
first passing probe; a failed service blocks its dependents but not the
rest of its batch.

Without --detach, flotilla keeps supervising health checks until
interrupted, then stops the stack in reverse order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, topo, err := loadStack()
		if err != nil {
			return err
		}

		sup, err := newSupervisor(cfg, topo)
		if err != nil {
			return err
		}
		defer sup.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		if err := sup.Up(ctx); err != nil {
			return err
		}
		logger.Info("Stack is up", "project", cfg.Project, "services", len(topo.Services))

		if upDetach {
			return nil
		}

		// Foreground mode: supervise until interrupted, then tear down.
		<-ctx.Done()
		logger.Info("Shutting down", "project", cfg.Project)
		return sup.Down(context.Background(), supervisor.DownOptions{})
	},
}

func init() {
	rootCmd.AddCommand(upCmd)
	upCmd.Flags().BoolVarP(&upDetach, "detach", "d", false, "start the stack and return immediately")
}
