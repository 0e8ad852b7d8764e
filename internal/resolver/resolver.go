// Package resolver implements the path resolver: given a real
// inode, walk parent links recorded in the catalog back to the root and
// reconstruct the relative backing path. This is the sole way a real inode
// maps onto a file under the source root.
package resolver

import (
	"fmt"
	"path"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/DrSkyle/eidetic/internal/catalog"
)

// maxHops bounds the walk as a cycle-detection guard; a structural invariant
// (parent_id < id at creation) would remove the need for this, but is not
// implemented here.
const maxHops = 100

// ErrCycle is returned when the walk exceeds maxHops without reaching the
// self-parented root.
var ErrCycle = fmt.Errorf("resolver: parent chain exceeded %d hops", maxHops)

// Catalog is the subset of *catalog.Catalog the resolver needs.
type Catalog interface {
	Entry(id fuseops.InodeID) (parent fuseops.InodeID, name string, err error)
}

var _ Catalog = (*catalog.Catalog)(nil)

// Resolve returns the relative path (slash-separated, no leading slash) of
// inode id, empty for the root itself.
func Resolve(c Catalog, id fuseops.InodeID) (string, error) {
	if id == catalog.RootInodeID {
		return "", nil
	}

	var segments []string
	cur := id

	for hop := 0; ; hop++ {
		if hop >= maxHops {
			return "", ErrCycle
		}

		parent, name, err := c.Entry(cur)
		if err != nil {
			return "", fmt.Errorf("resolving inode %d: %w", cur, err)
		}

		segments = append(segments, name)

		if parent == catalog.RootInodeID && cur == parent {
			break
		}
		if parent == catalog.RootInodeID {
			break
		}
		cur = parent
	}

	// segments were appended child-to-root; reverse them.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}

	rel := segments[0]
	for _, s := range segments[1:] {
		rel = path.Join(rel, s)
	}
	return rel, nil
}
