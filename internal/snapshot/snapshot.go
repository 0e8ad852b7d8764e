// Package snapshot implements the copy-on-write history log and trash-on-
// delete policy: a pre-write copy of a real file into .eidetic/history, and
// a move-to-trash on unlink into .eidetic/trash, both indexed in the
// catalog.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jacobsa/fuse/fuseops"

	"github.com/DrSkyle/eidetic/internal/catalog"
)

const (
	historyDirName = ".eidetic/history"
	trashDirName   = ".eidetic/trash"
)

// Keeper snapshots and trashes files under sourceRoot, recording both in cat.
type Keeper struct {
	sourceRoot string
	cat        *catalog.Catalog
}

func New(sourceRoot string, cat *catalog.Catalog) *Keeper {
	return &Keeper{sourceRoot: sourceRoot, cat: cat}
}

// HistoryDir and TrashDir are the absolute backing paths, created lazily.
func (k *Keeper) HistoryDir() string { return filepath.Join(k.sourceRoot, historyDirName) }
func (k *Keeper) TrashDir() string   { return filepath.Join(k.sourceRoot, trashDirName) }

// SnapshotBeforeWrite copies the current contents of the real file at
// relPath (identified by id) into the history directory, then records the
// backup in the catalog. Copy failures are swallowed: a snapshot is
// best-effort and must never fail the write it precedes.
func (k *Keeper) SnapshotBeforeWrite(id fuseops.InodeID, relPath string, unixTS int64) {
	if err := k.snapshot(id, relPath, unixTS); err != nil {
		// Best-effort; the caller proceeds with the write regardless.
		_ = err
	}
}

func (k *Keeper) snapshot(id fuseops.InodeID, relPath string, unixTS int64) error {
	src := filepath.Join(k.sourceRoot, relPath)

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s for snapshot: %w", src, err)
	}
	defer srcFile.Close()

	if err := os.MkdirAll(k.HistoryDir(), 0o755); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}

	backupName := fmt.Sprintf("%d_%d_%s_%s", id, unixTS, shortUUID(), filepath.Base(relPath))
	backupPath := filepath.Join(k.HistoryDir(), backupName)

	dstFile, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("creating backup %s: %w", backupPath, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("copying to backup %s: %w", backupPath, err)
	}

	relBackup := filepath.Join(historyDirName, backupName)
	if err := k.cat.AppendHistory(id, unixTS, relBackup); err != nil {
		return fmt.Errorf("recording history row: %w", err)
	}

	return nil
}

// TrashOnUnlink moves the backing file at relPath to the trash directory and
// records it, falling back to a direct delete if the move fails. Returns nil
// if either path results in the file being gone, except that a failure to
// record the trash row after a successful move is returned as an error.
func (k *Keeper) TrashOnUnlink(relPath string, unixTS int64) error {
	src := filepath.Join(k.sourceRoot, relPath)

	if err := os.MkdirAll(k.TrashDir(), 0o755); err == nil {
		backupName := fmt.Sprintf("%d_%s_%s", unixTS, shortUUID(), filepath.Base(relPath))
		backupPath := filepath.Join(k.TrashDir(), backupName)

		if err := os.Rename(src, backupPath); err == nil {
			relBackup := filepath.Join(trashDirName, backupName)
			if err := k.cat.AppendTrash(relPath, relBackup, unixTS); err != nil {
				return fmt.Errorf("recording trash row: %w", err)
			}
			return nil
		}
	}

	// Move failed (or directory couldn't be created): fall back to direct
	// delete. No trash row is recorded in this path.
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing %s: %w", src, err)
	}
	return nil
}

func shortUUID() string {
	return uuid.NewString()[:8]
}
