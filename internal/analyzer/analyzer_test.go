package analyzer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/eidetic/internal/catalog"
)

func openTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestHeuristicTag(t *testing.T) {
	// heuristicTag expects text already folded to lower case, matching how
	// analyzeText always calls it.
	testcases := []struct {
		name    string
		text    string
		wantTag string
		wantOK  bool
	}{
		{name: "go source", text: "package main\nfunc main() {}\n", wantTag: "code", wantOK: true},
		{name: "python source", text: "def main():\n    pass\n", wantTag: "code", wantOK: true},
		{name: "invoice", text: "invoice #123\ntotal: $45.00\n", wantTag: "finance", wantOK: true},
		{name: "sql", text: "select * from users;\n", wantTag: "sql", wantOK: true},
		{name: "letter", text: "dear sir,\n\nsincerely,\na friend\n", wantTag: "letter", wantOK: true},
		{name: "plain prose", text: "just some ordinary notes about the weather today\n", wantOK: false},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			tag, ok := heuristicTag(tc.text)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantTag, tag)
			}
		})
	}
}

func TestProcessTagsCodeFile(t *testing.T) {
	cat := openTestCatalog(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644))

	id, err := cat.Create(catalog.RootInodeID, "main.go")
	require.NoError(t, err)

	q := &Queue{jobs: make(chan Job, 1), cat: cat}
	q.process(Job{Inode: id, Path: path})

	tags, err := cat.ListTags()
	require.NoError(t, err)
	assert.Equal(t, []string{"code"}, tags)
}

func TestProcessSkipsBinaryFile(t *testing.T) {
	cat := openTestCatalog(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 'a', 'b'}, 0o644))

	id, err := cat.Create(catalog.RootInodeID, "data.bin")
	require.NoError(t, err)

	q := &Queue{jobs: make(chan Job, 1), cat: cat}
	q.process(Job{Inode: id, Path: path})

	tags, err := cat.ListTags()
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestEnqueueDoesNotBlockWhenFull(t *testing.T) {
	cat := openTestCatalog(t)
	q := &Queue{jobs: make(chan Job), cat: cat} // unbuffered: any send would block

	done := make(chan struct{})
	go func() {
		q.Enqueue(Job{Inode: fuseops.InodeID(1), Path: "/nonexistent"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue instead of dropping the job")
	}
}
