package commands

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

var statsPidFlag int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Trigger a stats dump in a running filecached process",
	Long: `stats sends SIGUSR1 to a running filecached process (see --pid), which
logs a snapshot of its capacity counters and eviction history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsPidFlag <= 0 {
			return fmt.Errorf("--pid is required")
		}
		return syscall.Kill(statsPidFlag, syscall.SIGUSR1)
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsPidFlag, "pid", 0, "PID of the running filecached process")
}
