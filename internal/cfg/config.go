// Package cfg binds the mount/start CLI surface to a viper-backed Config
// struct, following cfg/config.go and cmd/root.go's pattern of pflag ->
// viper.BindPFlag -> viper.Unmarshal rather than hand-rolling flag parsing.
package cfg

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of knobs for one mount.
type Config struct {
	Source     string `mapstructure:"source"`
	MountPoint string `mapstructure:"mount-point"`
	Foreground bool   `mapstructure:"foreground"`

	Logging LoggingConfig `mapstructure:"logging"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Severity string `mapstructure:"severity"` // trace|debug|info|warn|error|off
	Format   string `mapstructure:"format"`   // json|text
	FilePath string `mapstructure:"file-path"`
}

type HTTPConfig struct {
	FetchTimeoutSecs int `mapstructure:"fetch-timeout-secs"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// BindFlags registers every flag this config exposes on flagSet and binds it
// into viper.
func BindFlags(flagSet *pflag.FlagSet) error {
	bind := func(key string) error {
		return viper.BindPFlag(key, flagSet.Lookup(key))
	}
	bindAs := func(key, flagName string) error {
		return viper.BindPFlag(key, flagSet.Lookup(flagName))
	}

	flagSet.String("source", "./source_data", "Directory to mirror at the mount point.")
	if err := bind("source"); err != nil {
		return err
	}

	flagSet.String("mount-point", "./mount_point", "Where to publish the filesystem.")
	if err := bind("mount-point"); err != nil {
		return err
	}

	flagSet.Bool("foreground", false, "Run in the foreground instead of daemonizing.")
	if err := bind("foreground"); err != nil {
		return err
	}

	flagSet.String("log-severity", "info", "trace|debug|info|warn|error|off")
	if err := bindAs("logging.severity", "log-severity"); err != nil {
		return err
	}

	flagSet.String("log-format", "text", "json|text")
	if err := bindAs("logging.format", "log-format"); err != nil {
		return err
	}

	flagSet.String("log-file", "", "Path to the log file; empty means stderr.")
	if err := bindAs("logging.file-path", "log-file"); err != nil {
		return err
	}

	flagSet.Int("http-fetch-timeout-secs", 5, "Timeout for outbound api/ and .url fetches.")
	if err := bindAs("http.fetch-timeout-secs", "http-fetch-timeout-secs"); err != nil {
		return err
	}

	flagSet.Bool("metrics-enabled", false, "Expose a /metrics debug endpoint.")
	if err := bindAs("metrics.enabled", "metrics-enabled"); err != nil {
		return err
	}

	flagSet.String("metrics-addr", "127.0.0.1:9109", "Address for the /metrics debug endpoint.")
	if err := bindAs("metrics.addr", "metrics-addr"); err != nil {
		return err
	}

	return nil
}

// Validate checks cross-field constraints BindFlags can't express.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source directory must not be empty")
	}
	if c.MountPoint == "" {
		return fmt.Errorf("mount point must not be empty")
	}
	return nil
}
