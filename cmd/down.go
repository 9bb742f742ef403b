package cmd

import (
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/flotilla-run/flotilla/internal/supervisor"
	"github.com/flotilla-run/flotilla/pkg/logger"
)

var (
	downVolumes bool
	downTimeout time.Duration
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the stack in reverse dependency order",
	Long: `Stop every running service, dependents before their dependencies.
Each container gets a SIGTERM and its stop_grace_period to exit before
being killed. Named volumes survive unless --volumes is passed.`,
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

		if err := sup.Down(ctx, supervisor.DownOptions{GraceOverride: downTimeout}); err != nil {
			return err
		}

		if downVolumes {
			if !confirmVolumeRemoval(cfg.Project) {
				logger.Info("Keeping volumes")
				return nil
			}
			if err := sup.Volumes().RemoveAll(ctx, topo); err != nil {
				return err
			}
		}

		logger.Info("Stack is down", "project", cfg.Project)
		return nil
	},
}

func confirmVolumeRemoval(project string) bool {
	confirmed := false
	prompt := &survey.Confirm{
		Message: "Remove all named volumes of project \"" + project + "\"? Data will be lost.",
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false
	}
	return confirmed
}

func init() {
	rootCmd.AddCommand(downCmd)
	downCmd.Flags().BoolVarP(&downVolumes, "volumes", "v", false, "also remove the project's named volumes")
	downCmd.Flags().DurationVarP(&downTimeout, "timeout", "t", 0, "override every service's stop grace period")
}
