package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flotilla-run/flotilla/internal/sequencer"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the topology file without starting anything",
	Long: `Parse and validate the topology, then print the computed start
order. Exits 1 when the file has problems, without touching the runtime.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, topo, err := loadStack()
		if err != nil {
			return err
		}

		batches, err := sequencer.Batches(topo)
		if err != nil {
			return err
		}

		fmt.Printf("Topology %q: %d service(s), %d volume(s)\n", topo.Name, len(topo.Services), len(topo.Volumes))
		for i, batch := range batches {
			fmt.Printf("  batch %d: %v\n", i+1, batch)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
