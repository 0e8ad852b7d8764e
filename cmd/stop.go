package cmd

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/eidetic/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal the running eidetic daemon to unmount and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemon.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("stopping eidetic: %w", err)
		}
		fmt.Println("Sent SIGTERM to the eidetic daemon.")
		return nil
	},
}
