// Package inodeid implements the pure classification functions for the
// filesystem's 64-bit inode space. The space partitions real, backing-file
// inodes from a handful of synthetic classes by reserving high bits and a
// ladder of top-of-range constants. The class is encoded in the number itself
// rather than in, say, a tagged union passed alongside the ID, because the
// kernel only gives us the bare uint64 back.
package inodeid

import "github.com/jacobsa/fuse/fuseops"

const (
	// RealRoot is the backing directory's own inode; fuseops.RootInodeID is 1.
	RealRoot = fuseops.InodeID(fuseops.RootInodeID)

	// High bits reserved on real or synthetic-derived inodes to mark a view.
	ContextBit = fuseops.InodeID(1) << 63
	ConvertBit = fuseops.InodeID(1) << 62
	ApiBit     = fuseops.InodeID(1) << 61

	// MaxInode is the top of the 64-bit space; reserved singletons count down
	// from it so that adding new ones never collides with real inodes, which
	// are allocated monotonically upward from 2.
	MaxInode = ^fuseops.InodeID(0)

	Root          = MaxInode
	Tags          = MaxInode - 1
	Recent        = MaxInode - 2
	Search        = MaxInode - 3
	SearchResults = MaxInode - 4
	Api           = MaxInode - 5
	Wormhole      = MaxInode - 6
	Stats         = MaxInode - 7

	// WormholeUpgrade/WormholeWelcome are the two fixed leaf objects inside
	// wormhole/. Their count is fixed at compile time (gated content, not
	// backing files), so they get ladder slots rather than a bit-flagged
	// class of their own.
	WormholeUpgrade = MaxInode - 8
	WormholeWelcome = MaxInode - 9

	// TagDirLo/TagDirHi bound the range carved out for per-tag virtual
	// directories, allocated from the tag_inodes catalog table (see
	// DESIGN.md, "per-tag inode allocation"). It starts TagDirSlots below Tags
	// and stops just under WormholeWelcome, since Tags-1 .. Tags-8 are ladder
	// singletons; that leaves 992 allocatable slots.
	TagDirSlots = 1000
	TagDirHi    = WormholeWelcome - 1
	TagDirLo    = Tags - TagDirSlots
)

// Singleton identifies one of the fixed, process-lifetime synthetic objects.
type Singleton int

const (
	SingletonNone Singleton = iota
	SingletonRoot
	SingletonTags
	SingletonRecent
	SingletonSearch
	SingletonSearchResults
	SingletonApi
	SingletonWormhole
	SingletonStats
	SingletonWormholeUpgrade
	SingletonWormholeWelcome
)

// Class is the result of classifying an inode number.
type Class struct {
	Kind Kind

	// Populated for Kind == KindContext or KindConvert: the low-bit-masked
	// inode of the real file or directory this is a view of. Its existence on
	// disk is not guaranteed merely because this class was produced.
	Real fuseops.InodeID

	// Populated for Kind == KindSingleton.
	Which Singleton

	// Populated for Kind == KindTagDir: the inode as handed out by the
	// catalog's tag_inodes table. The tag name itself is not recoverable from
	// the number alone; callers resolve it through the catalog.
	TagDirID fuseops.InodeID
}

type Kind int

const (
	KindReal Kind = iota
	KindContext
	KindConvert
	KindApiLeaf
	KindTagDir
	KindSingleton
)

// Classify implements the classification order mandated by the design: exact
// singleton/ladder matches first (since the ladder constants also have every
// high bit set and would otherwise be mistaken for context/convert views),
// then the tag-directory range (every inode in it also has all three high
// bits set, so it must be tested before the bit-flag checks), then bit
// flags, and only then real.
func Classify(id fuseops.InodeID) Class {
	switch id {
	case Root:
		return Class{Kind: KindSingleton, Which: SingletonRoot}
	case Tags:
		return Class{Kind: KindSingleton, Which: SingletonTags}
	case Recent:
		return Class{Kind: KindSingleton, Which: SingletonRecent}
	case Search:
		return Class{Kind: KindSingleton, Which: SingletonSearch}
	case SearchResults:
		return Class{Kind: KindSingleton, Which: SingletonSearchResults}
	case Api:
		return Class{Kind: KindSingleton, Which: SingletonApi}
	case Wormhole:
		return Class{Kind: KindSingleton, Which: SingletonWormhole}
	case Stats:
		return Class{Kind: KindSingleton, Which: SingletonStats}
	case WormholeUpgrade:
		return Class{Kind: KindSingleton, Which: SingletonWormholeUpgrade}
	case WormholeWelcome:
		return Class{Kind: KindSingleton, Which: SingletonWormholeWelcome}
	}

	if id >= TagDirLo && id <= TagDirHi {
		return Class{Kind: KindTagDir, TagDirID: id}
	}

	if id&ContextBit != 0 {
		return Class{Kind: KindContext, Real: id &^ ContextBit}
	}
	if id&ConvertBit != 0 {
		return Class{Kind: KindConvert, Real: id &^ ConvertBit}
	}
	if id&ApiBit != 0 {
		return Class{Kind: KindApiLeaf, Real: id &^ ApiBit}
	}

	return Class{Kind: KindReal}
}

// ContextViewOf returns the synthetic inode for the ".context" file inside
// directory dir.
func ContextViewOf(dir fuseops.InodeID) fuseops.InodeID {
	return dir | ContextBit
}

// ConvertedViewOf returns the synthetic inode for the format-converted view
// of real file f.
func ConvertedViewOf(f fuseops.InodeID) fuseops.InodeID {
	return f | ConvertBit
}

// ApiLeafOf returns the synthetic inode for an api/ leaf keyed by a small,
// stable slot number (assigned at startup from a fixed list of leaves, not
// hashed, since the set of api/*.json leaves is fixed at compile time).
func ApiLeafOf(slot fuseops.InodeID) fuseops.InodeID {
	return slot | ApiBit
}
