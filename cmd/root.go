// Package cmd implements the eidetic CLI surface: mount/start/stop, built as
// a single cobra.Command tree with subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DrSkyle/eidetic/internal/cfg"
)

var bindErr error

var rootCmd = &cobra.Command{
	Use:   "eidetic",
	Short: "An eidetic FUSE overlay over a source directory",
	Long: `eidetic mirrors a source directory through a FUSE mount, tagging,
snapshotting and indexing every file it sees without altering the backing
tree's own bytes.`,
	SilenceUsage: true,
}

// Execute runs the root command, exiting nonzero on any top-level failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(mountCmd, startCmd, stopCmd)
}

// loadConfig resolves the bound flags into a cfg.Config, validating
// cross-field constraints BindFlags itself can't express.
func loadConfig() (cfg.Config, error) {
	if bindErr != nil {
		return cfg.Config{}, bindErr
	}
	var c cfg.Config
	if err := viper.Unmarshal(&c); err != nil {
		return cfg.Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return cfg.Config{}, err
	}
	return c, nil
}
