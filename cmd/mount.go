package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/DrSkyle/eidetic/internal/analyzer"
	"github.com/DrSkyle/eidetic/internal/backing"
	"github.com/DrSkyle/eidetic/internal/catalog"
	"github.com/DrSkyle/eidetic/internal/cfg"
	"github.com/DrSkyle/eidetic/internal/clock"
	"github.com/DrSkyle/eidetic/internal/daemon"
	"github.com/DrSkyle/eidetic/internal/dispatcher"
	"github.com/DrSkyle/eidetic/internal/httpfetch"
	"github.com/DrSkyle/eidetic/internal/license"
	"github.com/DrSkyle/eidetic/internal/logger"
	"github.com/DrSkyle/eidetic/internal/metrics"
	"github.com/DrSkyle/eidetic/internal/snapshot"
	"github.com/DrSkyle/eidetic/internal/synthetic"
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the eidetic filesystem in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		mfs, _, err := mountFileSystem(c, true)
		if err != nil {
			return err
		}
		return mfs.Join(context.Background())
	},
}

// mountFileSystem wires every collaborator together and performs the mount,
// returning once it has either succeeded or failed. Callers block on
// mfs.Join themselves; this split lets the daemonized start path report the
// mount outcome to its parent before blocking for the life of the mount.
func mountFileSystem(c cfg.Config, writePIDFile bool) (mfs *fuse.MountedFileSystem, log *slog.Logger, err error) {
	log = logger.New(logger.Config{
		Severity: severityFromString(c.Logging.Severity),
		Format:   c.Logging.Format,
		FilePath: c.Logging.FilePath,
	})

	if err := os.MkdirAll(c.Source, 0o755); err != nil {
		return nil, log, fmt.Errorf("creating source directory: %w", err)
	}
	if err := os.MkdirAll(c.MountPoint, 0o755); err != nil {
		return nil, log, fmt.Errorf("creating mount point: %w", err)
	}

	warnOnLowFileDescriptorLimit(log)

	fetcher := httpfetch.New(time.Duration(c.HTTP.FetchTimeoutSecs) * time.Second)
	licenser := license.Load()

	cat, err := catalog.Open(filepath.Join(c.Source, ".eidetic.db"))
	if err != nil {
		return nil, log, fmt.Errorf("opening catalog: %w", err)
	}

	back := backing.New(c.Source, fetcher)
	synth := synthetic.New(cat, fetcher, licenser, log)
	snap := snapshot.New(c.Source, cat)

	var metricsRecorder *metrics.Recorder
	if c.Metrics.Enabled {
		metricsRecorder = metrics.New()
		go func() {
			if err := metricsRecorder.Serve(context.Background(), c.Metrics.Addr); err != nil {
				log.Warn("metrics endpoint stopped", "error", err)
			}
		}()
	}

	// The analyzer gets its own handle onto the same database file.
	analyzerCat, err := catalog.Open(filepath.Join(c.Source, ".eidetic.db"))
	if err != nil {
		cat.Close()
		return nil, log, fmt.Errorf("opening analyzer catalog: %w", err)
	}
	analyzerQ := analyzer.New(analyzerCat, log, metricsRecorder)

	server, err := dispatcher.NewServer(dispatcher.Config{
		Catalog:   cat,
		Backing:   back,
		Synthetic: synth,
		Snapshot:  snap,
		Analyzer:  analyzerQ,
		Clock:     clock.RealClock{},
		Uid:       uint32(os.Getuid()),
		Gid:       uint32(os.Getgid()),
		Metrics:   metricsRecorder,
		Log:       log,
	})
	if err != nil {
		cat.Close()
		return nil, log, fmt.Errorf("building dispatcher: %w", err)
	}

	mountCfg := &fuse.MountConfig{
		FSName:  "eidetic",
		Subtype: "eidetic",
		// Every directory's children are looked up through the catalog/resolver
		// chain rather than an in-kernel dentry cache of our own making, so
		// parallel lookups are safe to allow.
		EnableParallelDirOps: true,
	}

	log.Info("mounting", "source", c.Source, "mount_point", c.MountPoint)
	mfs, err = fuse.Mount(c.MountPoint, server, mountCfg)
	if err != nil {
		cat.Close()
		return nil, log, fmt.Errorf("mount: %w", err)
	}

	if writePIDFile {
		if err := daemon.WritePID(); err != nil {
			log.Warn("failed to write pid file", "error", err)
		}
	}

	registerSignalHandler(c.MountPoint, log)

	go func() {
		mfs.Join(context.Background())
		cat.Close()
		if writePIDFile {
			daemon.RemovePID()
		}
	}()

	log.Info("mounted successfully")
	return mfs, log, nil
}

// registerSignalHandler unmounts on SIGINT/SIGTERM; "stop" sends SIGTERM to
// this same handler rather than calling fuse.Unmount itself.
func registerSignalHandler(mountPoint string, log *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		for range sigCh {
			log.Info("received shutdown signal, attempting to unmount")
			if err := fuse.Unmount(mountPoint); err != nil {
				log.Error("failed to unmount", "error", err)
				continue
			}
			log.Info("unmounted successfully")
			return
		}
	}()
}

// recommendedFDLimit is a conservative floor: every open backing file, the
// sqlite catalog handle and its WAL/SHM siblings, and any held directory
// handles all count against RLIMIT_NOFILE.
const recommendedFDLimit = 4096

// warnOnLowFileDescriptorLimit logs a warning if the process's open-file
// limit looks too low to serve a mount with many concurrently open files.
// A failure to query the limit is itself only worth a warning, not a fatal
// error -- mounting should proceed regardless.
func warnOnLowFileDescriptorLimit(log *slog.Logger) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		log.Warn("failed to query RLIMIT_NOFILE", "error", err)
		return
	}
	if rlimit.Cur < recommendedFDLimit {
		log.Warn("open file descriptor limit is low for a FUSE mount",
			"current", rlimit.Cur, "recommended", recommendedFDLimit)
	}
}

func severityFromString(s string) logger.Severity {
	switch s {
	case "trace":
		return logger.Trace
	case "debug":
		return logger.Debug
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "off":
		return logger.Off
	default:
		return logger.Info
	}
}
