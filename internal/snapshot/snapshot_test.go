package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/eidetic/internal/catalog"
)

func newTestKeeper(t *testing.T) (*Keeper, string, *catalog.Catalog) {
	t.Helper()
	root := t.TempDir()
	cat, err := catalog.Open(filepath.Join(root, ".eidetic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return New(root, cat), root, cat
}

func TestSnapshotBeforeWriteRecordsBackupWithPreWriteContents(t *testing.T) {
	k, root, cat := newTestKeeper(t)
	id, err := cat.Create(catalog.RootInodeID, "a.txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("before"), 0o644))

	k.SnapshotBeforeWrite(id, "a.txt", 1000)

	hist, err := cat.RecentlyWritten(10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, id, hist[0].InodeID)

	backup, err := os.ReadFile(filepath.Join(root, hist[0].BackupPath))
	require.NoError(t, err)
	assert.Equal(t, "before", string(backup))
}

func TestSnapshotChainKeepsDistinctBackupsPerWrite(t *testing.T) {
	k, root, cat := newTestKeeper(t)
	id, err := cat.Create(catalog.RootInodeID, "a.txt")
	require.NoError(t, err)

	contents := []string{"v1", "v2", "v3"}
	for i, c := range contents {
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte(c), 0o644))
		k.SnapshotBeforeWrite(id, "a.txt", int64(1000+i))
	}

	hist, err := cat.RecentlyWritten(10)
	require.NoError(t, err)
	require.Len(t, hist, 1) // RecentlyWritten groups by inode, keeping only the latest

	// Walk every history row directly to confirm each snapshot is distinct and
	// matches the content present immediately before the corresponding write.
	rows := snapshotRowsForTest(t, root, cat, id)
	require.Len(t, rows, len(contents))
	for i, row := range rows {
		backup, err := os.ReadFile(filepath.Join(root, row.BackupPath))
		require.NoError(t, err)
		assert.Equal(t, contents[i], string(backup))
	}
}

// snapshotRowsForTest lists every backup file under history/ in order, since
// catalog.Catalog exposes only a "most recent per inode" query and a name
// collision per write would make backups indistinguishable otherwise. Backup
// names embed (inode, timestamp) first, so directory order matches write
// order here.
func snapshotRowsForTest(t *testing.T, root string, cat *catalog.Catalog, id fuseops.InodeID) []catalog.HistoryEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, historyDirName))
	require.NoError(t, err)

	var rows []catalog.HistoryEntry
	for _, e := range entries {
		rows = append(rows, catalog.HistoryEntry{InodeID: id, BackupPath: filepath.Join(historyDirName, e.Name())})
	}
	return rows
}

func TestTrashOnUnlinkMovesFileAndRecordsRow(t *testing.T) {
	k, root, _ := newTestKeeper(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("bye"), 0o644))

	require.NoError(t, k.TrashOnUnlink("a.txt", 42))

	_, err := os.Stat(filepath.Join(root, "a.txt"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(k.TrashDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(k.TrashDir(), entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))
}

func TestSnapshotBeforeWriteToleratesMissingSource(t *testing.T) {
	k, _, cat := newTestKeeper(t)
	id, err := cat.Create(catalog.RootInodeID, "gone.txt")
	require.NoError(t, err)

	// No panic, no propagated error: snapshotting is best-effort.
	k.SnapshotBeforeWrite(id, "gone.txt", 1)

	hist, err := cat.RecentlyWritten(10)
	require.NoError(t, err)
	assert.Empty(t, hist)
}
