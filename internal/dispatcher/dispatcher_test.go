package dispatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/eidetic/internal/analyzer"
	"github.com/DrSkyle/eidetic/internal/backing"
	"github.com/DrSkyle/eidetic/internal/catalog"
	"github.com/DrSkyle/eidetic/internal/clock"
	"github.com/DrSkyle/eidetic/internal/httpfetch"
	"github.com/DrSkyle/eidetic/internal/inodeid"
	"github.com/DrSkyle/eidetic/internal/logger"
	"github.com/DrSkyle/eidetic/internal/snapshot"
	"github.com/DrSkyle/eidetic/internal/synthetic"
)

// testFS bundles the dispatcher under test with the collaborators a test
// wants to poke at directly (the catalog and the source root), mirroring how
// New's own doc comment says it exists: to drive the dispatcher without a
// kernel mount.
type testFS struct {
	*fileSystem
	cat  *catalog.Catalog
	root string
}

func newTestFS(t *testing.T) *testFS {
	t.Helper()
	root := t.TempDir()

	cat, err := catalog.Open(filepath.Join(root, ".eidetic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	fetcher := httpfetch.New(time.Second)
	back := backing.New(root, fetcher)
	synth := synthetic.New(cat, fetcher, nil, logger.Noop())
	snap := snapshot.New(root, cat)
	analyzerQ := analyzer.New(cat, logger.Noop(), nil)

	fsIface, err := New(Config{
		Catalog:   cat,
		Backing:   back,
		Synthetic: synth,
		Snapshot:  snap,
		Analyzer:  analyzerQ,
		Clock:     clock.NewFakeClock(time.Unix(1700000000, 0)),
		Uid:       1000,
		Gid:       1000,
	})
	require.NoError(t, err)

	fs, ok := fsIface.(*fileSystem)
	require.True(t, ok)
	return &testFS{fileSystem: fs, cat: cat, root: root}
}

func TestLookupMagicRootAndChildren(t *testing.T) {
	fs := newTestFS(t)

	op := &fuseops.LookUpInodeOp{Parent: catalog.RootInodeID, Name: ".magic"}
	require.NoError(t, fs.LookUpInode(op))
	assert.Equal(t, inodeid.Root, op.Entry.Child)

	for name, wantID := range map[string]fuseops.InodeID{
		"tags":     inodeid.Tags,
		"recent":   inodeid.Recent,
		"search":   inodeid.Search,
		"api":      inodeid.Api,
		"wormhole": inodeid.Wormhole,
		"stats.md": inodeid.Stats,
	} {
		child := &fuseops.LookUpInodeOp{Parent: inodeid.Root, Name: name}
		require.NoError(t, fs.LookUpInode(child), "looking up %s", name)
		assert.Equal(t, wantID, child.Entry.Child, "looking up %s", name)
	}
}

func TestLookupMagicRootChildMiss(t *testing.T) {
	fs := newTestFS(t)
	op := &fuseops.LookUpInodeOp{Parent: inodeid.Root, Name: "nope"}
	assert.Error(t, fs.LookUpInode(op))
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs := newTestFS(t)

	create := &fuseops.CreateFileOp{Parent: catalog.RootInodeID, Name: "a.txt", Mode: 0o644}
	require.NoError(t, fs.CreateFile(create))
	id := create.Entry.Child

	write := &fuseops.WriteFileOp{Inode: id, Offset: 0, Data: []byte("hello")}
	require.NoError(t, fs.WriteFile(write))

	read := &fuseops.ReadFileOp{Inode: id, Offset: 0, Size: 5}
	require.NoError(t, fs.ReadFile(read))
	assert.Equal(t, "hello", string(read.Data))

	// The on-disk passthrough file actually contains the written bytes.
	raw, err := os.ReadFile(filepath.Join(fs.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))
}

func TestWriteRecordsHistoryRow(t *testing.T) {
	fs := newTestFS(t)

	create := &fuseops.CreateFileOp{Parent: catalog.RootInodeID, Name: "a.txt", Mode: 0o644}
	require.NoError(t, fs.CreateFile(create))
	id := create.Entry.Child

	require.NoError(t, fs.WriteFile(&fuseops.WriteFileOp{Inode: id, Data: []byte("v1")}))

	hist, err := fs.cat.RecentlyWritten(10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, id, hist[0].InodeID)
}

func TestUnlinkMovesFileToTrashAndDropsCatalogRow(t *testing.T) {
	fs := newTestFS(t)

	create := &fuseops.CreateFileOp{Parent: catalog.RootInodeID, Name: "a.txt", Mode: 0o644}
	require.NoError(t, fs.CreateFile(create))
	id := create.Entry.Child

	require.NoError(t, fs.Unlink(&fuseops.UnlinkOp{Parent: catalog.RootInodeID, Name: "a.txt"}))

	_, err := os.Stat(filepath.Join(fs.root, "a.txt"))
	assert.True(t, os.IsNotExist(err))

	_, _, err = fs.cat.Entry(id)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	entries, err := os.ReadDir(filepath.Join(fs.root, ".eidetic", "trash"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMkdirAndLookupReal(t *testing.T) {
	fs := newTestFS(t)

	mk := &fuseops.MkDirOp{Parent: catalog.RootInodeID, Name: "sub", Mode: 0o755}
	require.NoError(t, fs.MkDir(mk))

	lookup := &fuseops.LookUpInodeOp{Parent: catalog.RootInodeID, Name: "sub"}
	require.NoError(t, fs.LookUpInode(lookup))
	assert.Equal(t, mk.Entry.Child, lookup.Entry.Child)
}

func TestLookupMissingRealFileIsENOENT(t *testing.T) {
	fs := newTestFS(t)
	op := &fuseops.LookUpInodeOp{Parent: catalog.RootInodeID, Name: "nope.txt"}
	assert.Error(t, fs.LookUpInode(op))
}

func TestRenameRejectsMoveIntoOwnDescendant(t *testing.T) {
	fs := newTestFS(t)

	mk := &fuseops.MkDirOp{Parent: catalog.RootInodeID, Name: "parent", Mode: 0o755}
	require.NoError(t, fs.MkDir(mk))
	parentID := mk.Entry.Child

	mkChild := &fuseops.MkDirOp{Parent: parentID, Name: "child", Mode: 0o755}
	require.NoError(t, fs.MkDir(mkChild))
	childID := mkChild.Entry.Child

	err := fs.Rename(&fuseops.RenameOp{
		OldParent: catalog.RootInodeID, OldName: "parent",
		NewParent: childID, NewName: "parent",
	})
	assert.Error(t, err)
}

func TestRenameMovesRealFile(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.MkDir(&fuseops.MkDirOp{Parent: catalog.RootInodeID, Name: "dir", Mode: 0o755}))
	dirLookup := &fuseops.LookUpInodeOp{Parent: catalog.RootInodeID, Name: "dir"}
	require.NoError(t, fs.LookUpInode(dirLookup))
	dirID := dirLookup.Entry.Child

	create := &fuseops.CreateFileOp{Parent: catalog.RootInodeID, Name: "a.txt", Mode: 0o644}
	require.NoError(t, fs.CreateFile(create))

	require.NoError(t, fs.Rename(&fuseops.RenameOp{
		OldParent: catalog.RootInodeID, OldName: "a.txt",
		NewParent: dirID, NewName: "b.txt",
	}))

	_, err := os.Stat(filepath.Join(fs.root, "dir", "b.txt"))
	require.NoError(t, err)

	lookup := &fuseops.LookUpInodeOp{Parent: dirID, Name: "b.txt"}
	require.NoError(t, fs.LookUpInode(lookup))
}

func TestSearchWriteIsAcknowledgedInFullAndReadsEmpty(t *testing.T) {
	fs := newTestFS(t)

	write := &fuseops.WriteFileOp{Inode: inodeid.Search, Data: []byte("finance invoice")}
	require.NoError(t, fs.WriteFile(write))

	read := &fuseops.ReadFileOp{Inode: inodeid.Search, Offset: 0, Size: 64}
	require.NoError(t, fs.ReadFile(read))
	assert.Empty(t, read.Data)
}

func TestStatsMdReadHonorsOffsetPastEndReturnsEmpty(t *testing.T) {
	fs := newTestFS(t)

	a, err := fs.cat.Create(catalog.RootInodeID, "a.txt")
	require.NoError(t, err)
	require.NoError(t, fs.cat.AddTag(a, "code"))

	body, err := fs.synth.StatsMarkdown()
	require.NoError(t, err)

	read := &fuseops.ReadFileOp{Inode: inodeid.Stats, Offset: int64(len(body)), Size: 64}
	require.NoError(t, fs.ReadFile(read))
	assert.Empty(t, read.Data)
}

func TestReadDirAtNonzeroOffsetOnSyntheticDirReturnsEmpty(t *testing.T) {
	fs := newTestFS(t)

	open := &fuseops.OpenDirOp{Inode: inodeid.Tags}
	require.NoError(t, fs.OpenDir(open))

	read := &fuseops.ReadDirOp{Inode: inodeid.Tags, Handle: open.Handle, Offset: 1, Dst: make([]byte, 4096)}
	require.NoError(t, fs.ReadDir(read))
	assert.Zero(t, read.BytesRead)
}

func TestBuildRealEntriesIncludesDotMagicOnlyAtRoot(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.MkDir(&fuseops.MkDirOp{Parent: catalog.RootInodeID, Name: "sub", Mode: 0o755}))
	subLookup := &fuseops.LookUpInodeOp{Parent: catalog.RootInodeID, Name: "sub"}
	require.NoError(t, fs.LookUpInode(subLookup))

	rootEntries, err := fs.buildRealEntries(catalog.RootInodeID)
	require.NoError(t, err)
	assert.True(t, hasDirentNamed(rootEntries, ".magic"))

	subEntries, err := fs.buildRealEntries(subLookup.Entry.Child)
	require.NoError(t, err)
	assert.False(t, hasDirentNamed(subEntries, ".magic"))
	assert.True(t, hasDirentNamed(subEntries, ".context"))
}

func hasDirentNamed(entries []fuseutil.Dirent, name string) bool {
	for _, e := range entries {
		if e.Name == name {
			return true
		}
	}
	return false
}
