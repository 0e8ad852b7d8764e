package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jacobsa/daemonize"
	"github.com/kardianos/osext"
	"github.com/spf13/cobra"

	"github.com/DrSkyle/eidetic/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Mount the eidetic filesystem as a background daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}

		if c.Foreground {
			// This is the re-exec'd daemon child: mount, tell the waiting
			// parent how it went, then block for the life of the mount.
			mfs, _, mountErr := mountFileSystem(c, true)
			if sigErr := daemonize.SignalOutcome(mountErr); sigErr != nil {
				fmt.Fprintf(os.Stderr, "failed to signal outcome to parent: %v\n", sigErr)
			}
			if mountErr != nil {
				return mountErr
			}
			return mfs.Join(context.Background())
		}

		// A stale pid file blocks start until the user runs stop first.
		if _, err := daemon.ReadPID(); err == nil {
			return fmt.Errorf("eidetic appears to already be running (stale pid file? run `eidetic stop` first)")
		}

		path, err := osext.Executable()
		if err != nil {
			return fmt.Errorf("osext.Executable: %w", err)
		}

		args2 := append([]string{"start", "--foreground"}, os.Args[2:]...)
		env := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}
		if home, err := os.UserHomeDir(); err == nil {
			env = append(env, fmt.Sprintf("HOME=%s", home))
		}

		if err := daemonize.Run(path, args2, env, os.Stdout); err != nil {
			return fmt.Errorf("daemonize.Run: %w", err)
		}
		fmt.Fprintln(os.Stdout, "eidetic has been successfully mounted.")
		return nil
	},
}
