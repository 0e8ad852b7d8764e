package dispatcher

import (
	"fmt"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/DrSkyle/eidetic/internal/catalog"
	"github.com/DrSkyle/eidetic/internal/inodeid"
	"github.com/DrSkyle/eidetic/internal/resolver"
	"github.com/DrSkyle/eidetic/internal/synthetic"
)

// dirHandle is the per-open directory read cursor. Real directories are
// listed once per handle and paged across ReadDir calls via op.Offset; every
// synthetic directory is regenerated and served whole on the first call, and
// any subsequent call at a nonzero offset gets an empty reply.
type dirHandle struct {
	class   inodeid.Class
	inode   fuseops.InodeID
	entries []fuseutil.Dirent // nil until generated
}

func (fs *fileSystem) OpenDir(op *fuseops.OpenDirOp) (err error) {
	defer func() { fs.observe("OpenDir", err) }()

	class := inodeid.Classify(op.Inode)
	if !isDirClass(class) {
		return fuse.ENOTDIR
	}

	fs.mu.Lock()
	h := fs.nextHandleID
	fs.nextHandleID++
	fs.handles[h] = &dirHandle{class: class, inode: op.Inode}
	fs.mu.Unlock()

	op.Handle = h
	return nil
}

func isDirClass(class inodeid.Class) bool {
	switch class.Kind {
	case inodeid.KindReal, inodeid.KindTagDir:
		return true
	case inodeid.KindSingleton:
		switch class.Which {
		case inodeid.SingletonRoot, inodeid.SingletonTags, inodeid.SingletonRecent,
			inodeid.SingletonApi, inodeid.SingletonWormhole:
			return true
		}
	}
	return false
}

func (fs *fileSystem) ReadDir(op *fuseops.ReadDirOp) (err error) {
	defer func() { fs.observe("ReadDir", err) }()

	fs.mu.Lock()
	dh, ok := fs.handles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EINVAL
	}

	if dh.class.Kind == inodeid.KindReal {
		return fs.readRealDir(op, dh)
	}
	return fs.readSyntheticDir(op, dh)
}

// readRealDir generates the real directory's full listing on first use, then
// serves slices of it indexed directly by op.Offset -- entries[i].Offset ==
// i+1 (the offset of the entry after it), so resuming from offset k means
// "continue from entries[k:]".
func (fs *fileSystem) readRealDir(op *fuseops.ReadDirOp, dh *dirHandle) error {
	if dh.entries == nil {
		entries, err := fs.buildRealEntries(dh.inode)
		if err != nil {
			return err
		}
		dh.entries = entries
	}

	idx := int(op.Offset)
	if idx > len(dh.entries) {
		return fuse.EINVAL
	}

	written := 0
	for _, e := range dh.entries[idx:] {
		n := fuseutil.WriteDirent(op.Dst[written:], e)
		if n == 0 {
			break
		}
		written += n
	}
	op.BytesRead = written
	return nil
}

func (fs *fileSystem) buildRealEntries(dirInode fuseops.InodeID) ([]fuseutil.Dirent, error) {
	rel, err := resolver.Resolve(fs.cat, dirInode)
	if err != nil {
		return nil, fmt.Errorf("resolving dir %d: %w", dirInode, err)
	}

	var entries []fuseutil.Dirent
	add := func(name string, id fuseops.InodeID, t fuseutil.DirentType) {
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  id,
			Name:   name,
			Type:   t,
		})
	}

	add(".", dirInode, fuseutil.DT_Directory)

	parent := dirInode
	if dirInode != catalog.RootInodeID {
		if p, _, err := fs.cat.Entry(dirInode); err == nil {
			parent = p
		}
	}
	add("..", parent, fuseutil.DT_Directory)

	if dirInode == catalog.RootInodeID {
		add(".magic", inodeid.Root, fuseutil.DT_Directory)
	}
	add(".context", inodeid.ContextViewOf(dirInode), fuseutil.DT_File)

	osEntries, err := os.ReadDir(fs.backing.Abs(rel))
	if err != nil {
		return nil, fmt.Errorf("reading dir %s: %w", rel, err)
	}
	for _, e := range osEntries {
		name := e.Name()
		if catalog.IsIgnorable(name) {
			continue
		}
		id, err := fs.ensureCatalogEntry(dirInode, name)
		if err != nil {
			return nil, err
		}
		t := fuseutil.DT_File
		if e.IsDir() {
			t = fuseutil.DT_Directory
		}
		add(name, id, t)
	}

	return entries, nil
}

// readSyntheticDir generates a synthetic directory's listing whole and
// serves it in one shot; any call at a nonzero offset is the kernel resuming
// after that one-shot reply, so it gets an empty response.
func (fs *fileSystem) readSyntheticDir(op *fuseops.ReadDirOp, dh *dirHandle) error {
	if op.Offset != 0 {
		op.BytesRead = 0
		return nil
	}

	entries, err := fs.syntheticDirEntries(dh.class)
	if err != nil {
		return err
	}

	written := 0
	for _, e := range entries {
		n := fuseutil.WriteDirent(op.Dst[written:], e)
		if n == 0 {
			break
		}
		written += n
	}
	op.BytesRead = written
	return nil
}

func (fs *fileSystem) syntheticDirEntries(class inodeid.Class) ([]fuseutil.Dirent, error) {
	var entries []fuseutil.Dirent
	add := func(name string, id fuseops.InodeID, t fuseutil.DirentType) {
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  id,
			Name:   name,
			Type:   t,
		})
	}

	if class.Kind == inodeid.KindTagDir {
		tag, ok, err := fs.cat.TagForInode(class.TagDirID)
		if err != nil {
			return nil, fmt.Errorf("resolving tag dir: %w", err)
		}
		if !ok {
			return entries, nil
		}
		members, err := fs.synth.TagDirEntries(tag)
		if err != nil {
			return nil, fmt.Errorf("listing tag members: %w", err)
		}
		for _, m := range members {
			add(m.Name, m.InodeID, fuseutil.DT_File)
		}
		return entries, nil
	}

	switch class.Which {
	case inodeid.SingletonRoot:
		add("tags", inodeid.Tags, fuseutil.DT_Directory)
		add("recent", inodeid.Recent, fuseutil.DT_Directory)
		add("search", inodeid.Search, fuseutil.DT_File)
		add("api", inodeid.Api, fuseutil.DT_Directory)
		add("wormhole", inodeid.Wormhole, fuseutil.DT_Directory)
		add("stats.md", inodeid.Stats, fuseutil.DT_File)

	case inodeid.SingletonTags:
		tags, err := fs.synth.AllTags()
		if err != nil {
			return nil, fmt.Errorf("listing tags: %w", err)
		}
		for _, t := range tags {
			id, err := fs.cat.TagInode(t, inodeid.TagDirLo, inodeid.TagDirHi)
			if err != nil {
				return nil, fmt.Errorf("minting tag inode: %w", err)
			}
			add(t, id, fuseutil.DT_Directory)
		}

	case inodeid.SingletonRecent:
		recent, err := fs.synth.RecentEntries()
		if err != nil {
			return nil, fmt.Errorf("listing recent: %w", err)
		}
		for _, r := range recent {
			add(r.Name, fuseops.InodeID(r.InodeID), fuseutil.DT_File)
		}

	case inodeid.SingletonApi:
		for i, leaf := range synthetic.APILeaves {
			add(leaf.Name, inodeid.ApiLeafOf(fuseops.InodeID(i)), fuseutil.DT_File)
		}

	case inodeid.SingletonWormhole:
		for _, name := range fs.synth.WormholeEntries() {
			id := inodeid.WormholeUpgrade
			if name != "UPGRADE_TO_PRO.txt" {
				id = inodeid.WormholeWelcome
			}
			add(name, id, fuseutil.DT_File)
		}
	}

	return entries, nil
}

func (fs *fileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) (err error) {
	defer func() { fs.observe("ReleaseDirHandle", err) }()

	fs.mu.Lock()
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()
	return nil
}
