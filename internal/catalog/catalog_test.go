package catalog

import (
	"path/filepath"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	cat, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestOpenSeedsRoot(t *testing.T) {
	cat := openTestCatalog(t)

	parent, name, err := cat.Entry(RootInodeID)

	require.NoError(t, err)
	assert.Equal(t, RootInodeID, parent)
	assert.Equal(t, "", name)
}

func TestCreateAndLookup(t *testing.T) {
	cat := openTestCatalog(t)

	id, err := cat.Create(RootInodeID, "foo.txt")
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := cat.Lookup(RootInodeID, "foo.txt")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	parent, name, err := cat.Entry(id)
	require.NoError(t, err)
	assert.Equal(t, RootInodeID, parent)
	assert.Equal(t, "foo.txt", name)
}

func TestLookupMissingReturnsErrNotFound(t *testing.T) {
	cat := openTestCatalog(t)

	_, err := cat.Lookup(RootInodeID, "nope.txt")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesEntry(t *testing.T) {
	cat := openTestCatalog(t)
	id, err := cat.Create(RootInodeID, "gone.txt")
	require.NoError(t, err)

	require.NoError(t, cat.Delete(id))

	_, err = cat.Lookup(RootInodeID, "gone.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenameUpdatesParentAndName(t *testing.T) {
	cat := openTestCatalog(t)
	dirID, err := cat.Create(RootInodeID, "dir")
	require.NoError(t, err)
	id, err := cat.Create(RootInodeID, "a.txt")
	require.NoError(t, err)

	require.NoError(t, cat.Rename(id, dirID, "b.txt"))

	parent, name, err := cat.Entry(id)
	require.NoError(t, err)
	assert.Equal(t, dirID, parent)
	assert.Equal(t, "b.txt", name)
}

func TestAddTagIsIdempotent(t *testing.T) {
	cat := openTestCatalog(t)
	id, err := cat.Create(RootInodeID, "a.txt")
	require.NoError(t, err)

	require.NoError(t, cat.AddTag(id, "code"))
	require.NoError(t, cat.AddTag(id, "code"))

	tags, err := cat.ListTags()
	require.NoError(t, err)
	assert.Equal(t, []string{"code"}, tags)
}

func TestTagCounts(t *testing.T) {
	cat := openTestCatalog(t)
	a, err := cat.Create(RootInodeID, "a.txt")
	require.NoError(t, err)
	b, err := cat.Create(RootInodeID, "b.txt")
	require.NoError(t, err)

	require.NoError(t, cat.AddTag(a, "code"))
	require.NoError(t, cat.AddTag(b, "code"))
	require.NoError(t, cat.AddTag(a, "finance"))

	counts, err := cat.TagCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"code": 2, "finance": 1}, counts)
}

func TestFilesWithTag(t *testing.T) {
	cat := openTestCatalog(t)
	a, err := cat.Create(RootInodeID, "a.txt")
	require.NoError(t, err)
	require.NoError(t, cat.AddTag(a, "code"))

	files, err := cat.FilesWithTag("code")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, a, files[0].InodeID)
}

func TestRecentlyWrittenOrdersByTimestampDescending(t *testing.T) {
	cat := openTestCatalog(t)
	a, err := cat.Create(RootInodeID, "a.txt")
	require.NoError(t, err)
	b, err := cat.Create(RootInodeID, "b.txt")
	require.NoError(t, err)

	require.NoError(t, cat.AppendHistory(a, 100, "history/a1"))
	require.NoError(t, cat.AppendHistory(b, 200, "history/b1"))
	require.NoError(t, cat.AppendHistory(a, 300, "history/a2"))

	hist, err := cat.RecentlyWritten(10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, a, hist[0].InodeID)
	assert.Equal(t, int64(300), hist[0].Timestamp)
	assert.Equal(t, b, hist[1].InodeID)
}

func TestAppendTrash(t *testing.T) {
	cat := openTestCatalog(t)

	require.NoError(t, cat.AppendTrash("a.txt", "trash/a.txt", 42))
}

func TestTagInodeAllocatesAndReversesStably(t *testing.T) {
	cat := openTestCatalog(t)

	id1, err := cat.TagInode("code", 100, 200)
	require.NoError(t, err)

	id2, err := cat.TagInode("code", 100, 200)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	tag, ok, err := cat.TagForInode(id1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "code", tag)
}

func TestTagInodeAllocatesDistinctSlotsPerTag(t *testing.T) {
	cat := openTestCatalog(t)

	codeID, err := cat.TagInode("code", 100, 200)
	require.NoError(t, err)
	financeID, err := cat.TagInode("finance", 100, 200)
	require.NoError(t, err)

	assert.NotEqual(t, codeID, financeID)
}

func TestTagInodeExhaustionReturnsError(t *testing.T) {
	cat := openTestCatalog(t)

	// A one-slot range: the first tag fits, the second must fail.
	_, err := cat.TagInode("first", 100, 100)
	require.NoError(t, err)

	_, err = cat.TagInode("second", 100, 100)
	assert.Error(t, err)
}

func TestTagForInodeUnknownID(t *testing.T) {
	cat := openTestCatalog(t)

	_, ok, err := cat.TagForInode(fuseops.InodeID(9999))

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsIgnorable(t *testing.T) {
	testcases := []struct {
		name   string
		ignore bool
	}{
		{name: ".git", ignore: true},
		{name: ".eidetic", ignore: true},
		{name: "node_modules", ignore: true},
		{name: "target", ignore: true},
		{name: "vendor", ignore: true},
		{name: ".eidetic.db", ignore: true},
		{name: ".eidetic.db-wal", ignore: true},
		{name: ".eidetic.db-shm", ignore: true},
		{name: ".hidden", ignore: true},
		{name: "main.go", ignore: false},
		{name: "README.md", ignore: false},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ignore, IsIgnorable(tc.name))
		})
	}
}
