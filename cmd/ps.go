package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List the stack's services and their containers",
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

		views, err := sup.PS(ctx)
		if err != nil {
			return err
		}

		widths := []int{12, 14, 20, 12}
		for _, v := range views {
			widths[0] = max(widths[0], len(v.Service)+2)
			widths[2] = max(widths[2], len(v.Image)+2)
			widths[3] = max(widths[3], len(v.Status)+2)
		}

		fmt.Println(headerStyle.Render(row(widths, "SERVICE", "CONTAINER", "IMAGE", "STATUS")))
		for _, v := range views {
			style := stoppedStyle
			if v.Running {
				style = runningStyle
			}
			fmt.Println(style.Render(row(widths, v.Service, shortID(v.ContainerID), v.Image, v.Status)))
		}
		return nil
	},
}

func row(widths []int, cols ...string) string {
	var b strings.Builder
	for i, col := range cols {
		b.WriteString(col)
		if pad := widths[i] - len(col); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	if id == "" {
		return "-"
	}
	return id
}

func init() {
	rootCmd.AddCommand(psCmd)
}
