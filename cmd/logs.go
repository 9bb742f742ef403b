package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var logsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs <service>",
	Short: "Stream the logs of one service",
	Args:  cobra.ExactArgs(1),
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

		stream, err := sup.Logs(ctx, args[0], logsFollow)
		if err != nil {
			return err
		}
		defer stream.Close()

		_, err = io.Copy(os.Stdout, stream)
		return err
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "keep streaming new log output")
}
