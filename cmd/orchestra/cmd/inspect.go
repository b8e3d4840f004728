package cmd

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/orchestra/internal/tui"
)

var refreshEvery time.Duration

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Browse deployed definitions in a terminal UI",
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().DurationVar(&refreshEvery, "refresh", 3*time.Second, "poll interval, 0 disables polling")
}

func runInspect(cmd *cobra.Command, args []string) error {
	// Console logging would tear the alternate screen; orchestra.log.file
	// still receives every line.
	rt, err := newRuntime(io.Discard)
	if err != nil {
		return err
	}
	defer rt.Close()
	return tui.Run(cmd.Context(), rt.boot, tui.WithRefreshInterval(refreshEvery))
}
