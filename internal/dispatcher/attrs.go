package dispatcher

import (
	"os"

	"github.com/jacobsa/fuse/fuseops"
)

// statToAttrs translates an os.FileInfo from the backing layer into
// fuseops.InodeAttributes.
func statToAttrs(info os.FileInfo, uid, gid uint32) fuseops.InodeAttributes {
	nlink := uint64(1)
	if info.IsDir() {
		nlink = 2
	}
	mtime := info.ModTime()
	return fuseops.InodeAttributes{
		Size:   uint64(info.Size()),
		Nlink:  nlink,
		Mode:   info.Mode(),
		Atime:  mtime,
		Mtime:  mtime,
		Ctime:  mtime,
		Crtime: mtime,
		Uid:    uid,
		Gid:    gid,
	}
}

// syntheticDirAttrs is the canned attribute set for the .magic subtree's
// directories (tags/, recent/, api/, wormhole/, and .magic itself), none of
// which correspond to a file on disk.
func syntheticDirAttrs(uid, gid uint32) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  0,
		Nlink: 2,
		Mode:  0o555 | os.ModeDir,
		Uid:   uid,
		Gid:   gid,
	}
}

// syntheticFileAttrs is the canned attribute set for generated-content
// files: .context, search, api/*, wormhole/*, stats.md, and .jpg views.
func syntheticFileAttrs(uid, gid uint32, size uint64) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  size,
		Nlink: 1,
		Mode:  0o644,
		Uid:   uid,
		Gid:   gid,
	}
}
