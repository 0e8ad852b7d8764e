// Package dispatcher implements the FUSE dispatcher: the fuseutil.FileSystem
// implementation that routes every kernel callback to the classification,
// catalog, resolver, synthetic namespace, backing I/O, snapshot/trash and
// analyzer collaborators.
//
// Unlike a conventional FUSE filesystem, the dispatcher holds essentially no
// per-inode state across calls: the catalog is the sole source of durable
// (parent, name) structure, and a file's "handle" is a bookkeeping formality
// the kernel hands back on read/write/release, not something whose state we
// track. The main piece of real in-memory state is the directory read cursor
// kept per open directory handle, so that readdir on a large real directory
// can page through multiple ReadDir calls instead of generating the full
// listing on every call; the only other is a cache of converted-image sizes.
package dispatcher

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"

	"github.com/DrSkyle/eidetic/internal/analyzer"
	"github.com/DrSkyle/eidetic/internal/backing"
	"github.com/DrSkyle/eidetic/internal/catalog"
	"github.com/DrSkyle/eidetic/internal/clock"
	"github.com/DrSkyle/eidetic/internal/inodeid"
	"github.com/DrSkyle/eidetic/internal/metrics"
	"github.com/DrSkyle/eidetic/internal/resolver"
	"github.com/DrSkyle/eidetic/internal/snapshot"
	"github.com/DrSkyle/eidetic/internal/synthetic"
)

// attrTTL is how long the kernel may cache attributes and dentries before
// asking again.
const attrTTL = time.Second

// Config bundles every collaborator the dispatcher needs. All fields are
// required except Metrics, which may be nil.
type Config struct {
	Catalog   *catalog.Catalog
	Backing   *backing.Layer
	Synthetic *synthetic.Namespace
	Snapshot  *snapshot.Keeper
	Analyzer  *analyzer.Queue
	Clock     clock.Clock
	Uid       uint32
	Gid       uint32
	Metrics   *metrics.Recorder
	Log       *slog.Logger
}

// NewServer builds the dispatcher and wraps it in a fuse.Server, matching
// the shape of fuseutil.NewFileSystemServer(fs) used to mount a
// fuseutil.FileSystem.
func NewServer(cfg Config) (fuse.Server, error) {
	fs, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return fuseutil.NewFileSystemServer(fs), nil
}

// New builds the dispatcher's fuseutil.FileSystem implementation directly,
// for tests that want to drive it without going through a kernel mount.
func New(cfg Config) (fuseutil.FileSystem, error) {
	if cfg.Catalog == nil || cfg.Backing == nil || cfg.Synthetic == nil ||
		cfg.Snapshot == nil || cfg.Analyzer == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("dispatcher: incomplete Config")
	}

	fs := &fileSystem{
		cat:       cfg.Catalog,
		backing:   cfg.Backing,
		synth:     cfg.Synthetic,
		snap:      cfg.Snapshot,
		analyzerQ: cfg.Analyzer,
		clock:     cfg.Clock,
		uid:       cfg.Uid,
		gid:       cfg.Gid,
		metrics:   cfg.Metrics,
		log:       cfg.Log,
		handles:   make(map[fuseops.HandleID]*dirHandle),
		convSizes: make(map[fuseops.InodeID]uint64),
	}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	return fs, nil
}

// fileSystem is the dispatcher's fuseutil.FileSystem implementation.
//
// LOCK ORDERING:
//
// fs.mu guards only the handles map, nextHandleID and convSizes below. It is
// lightweight and must never be held across I/O: every method that talks to
// the catalog, the backing layer or a collaborator does so after releasing
// fs.mu. There is no per-inode lock in this design, because the catalog
// itself serializes concurrent structural changes and the dispatcher keeps
// no other mutable per-inode state to protect.
type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	cat       *catalog.Catalog
	backing   *backing.Layer
	synth     *synthetic.Namespace
	snap      *snapshot.Keeper
	analyzerQ *analyzer.Queue
	clock     clock.Clock
	uid       uint32
	gid       uint32
	metrics   *metrics.Recorder
	log       *slog.Logger

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	handles map[fuseops.HandleID]*dirHandle
	// GUARDED_BY(mu)
	nextHandleID fuseops.HandleID

	// convSizes caches the true encoded size of a CONVERT_BIT view once it has
	// been read, so getattr can stop reporting the placeholder size. Purely an
	// accuracy optimization; losing it (e.g. on restart) is harmless.
	// GUARDED_BY(mu)
	convSizes map[fuseops.InodeID]uint64
}

func (fs *fileSystem) checkInvariants() {
	for h := range fs.handles {
		if h >= fs.nextHandleID {
			panic(fmt.Sprintf("handle %d >= nextHandleID %d", h, fs.nextHandleID))
		}
	}
}

func (fs *fileSystem) observe(op string, err error) {
	if fs.metrics != nil {
		fs.metrics.Observe(op, err)
	}
}

func (fs *fileSystem) Init(op *fuseops.InitOp) (err error) {
	return nil
}

func (fs *fileSystem) Destroy() {}

// childEntry fills out a ChildInodeEntry from a freshly-resolved id and a
// pre-computed attribute set.
func (fs *fileSystem) childEntry(id fuseops.InodeID, attrs fuseops.InodeAttributes) fuseops.ChildInodeEntry {
	exp := fs.clock.Now().Add(attrTTL)
	return fuseops.ChildInodeEntry{
		Child:                id,
		Attributes:           attrs,
		AttributesExpiration: exp,
		EntryExpiration:      exp,
	}
}

// LookUpInode resolves (parent, name) against the classification tree:
// hardcoded synthetic names, then dynamic synthetic children, then
// .context, then real passthrough, with the .jpg-over-.png view as the
// fallback when the real name is not on disk.
func (fs *fileSystem) LookUpInode(op *fuseops.LookUpInodeOp) (err error) {
	defer func() { fs.observe("LookUpInode", err) }()

	parentClass := inodeid.Classify(op.Parent)

	// 1. The real root's ".magic" child.
	if op.Parent == catalog.RootInodeID && op.Name == ".magic" {
		op.Entry = fs.childEntry(inodeid.Root, syntheticDirAttrs(fs.uid, fs.gid))
		return nil
	}

	// 2. Children of the .magic root singleton.
	if parentClass.Kind == inodeid.KindSingleton && parentClass.Which == inodeid.SingletonRoot {
		return fs.lookupMagicRootChild(op)
	}

	// 3. tags/<tag>.
	if parentClass.Kind == inodeid.KindSingleton && parentClass.Which == inodeid.SingletonTags {
		return fs.lookupTagDir(op)
	}

	// 4. api/<leaf>.
	if parentClass.Kind == inodeid.KindSingleton && parentClass.Which == inodeid.SingletonApi {
		return fs.lookupAPILeaf(op)
	}

	// 5. wormhole/<leaf>.
	if parentClass.Kind == inodeid.KindSingleton && parentClass.Which == inodeid.SingletonWormhole {
		return fs.lookupWormholeLeaf(op)
	}

	// A tag directory's children are the real files carrying its tag. recent/
	// and the file-like singletons have no looked-up children: recent/
	// entries are only listed by readdir, so lookups under it get ENOENT.
	if parentClass.Kind == inodeid.KindTagDir {
		return fs.lookupTagDirMember(op, parentClass)
	}

	// 6. Real directories: ".context", then a real child, then the
	// .jpg-over-.png auto-convert fallback.
	if parentClass.Kind != inodeid.KindReal {
		return fuse.ENOENT
	}

	if op.Name == ".context" {
		attrs, aerr := fs.contextAttrs(parentClass, op.Parent)
		if aerr != nil {
			return aerr
		}
		op.Entry = fs.childEntry(inodeid.ContextViewOf(op.Parent), attrs)
		return nil
	}

	return fs.lookupReal(op)
}

func (fs *fileSystem) lookupMagicRootChild(op *fuseops.LookUpInodeOp) error {
	switch op.Name {
	case "tags":
		op.Entry = fs.childEntry(inodeid.Tags, syntheticDirAttrs(fs.uid, fs.gid))
	case "recent":
		op.Entry = fs.childEntry(inodeid.Recent, syntheticDirAttrs(fs.uid, fs.gid))
	case "search":
		op.Entry = fs.childEntry(inodeid.Search, syntheticFileAttrs(fs.uid, fs.gid, 0))
	case "api":
		op.Entry = fs.childEntry(inodeid.Api, syntheticDirAttrs(fs.uid, fs.gid))
	case "wormhole":
		op.Entry = fs.childEntry(inodeid.Wormhole, syntheticDirAttrs(fs.uid, fs.gid))
	case "stats.md":
		body, err := fs.synth.StatsMarkdown()
		if err != nil {
			return fmt.Errorf("generating stats.md: %w", err)
		}
		op.Entry = fs.childEntry(inodeid.Stats, syntheticFileAttrs(fs.uid, fs.gid, uint64(len(body))))
	default:
		return fuse.ENOENT
	}
	return nil
}

func (fs *fileSystem) lookupTagDir(op *fuseops.LookUpInodeOp) error {
	tags, err := fs.synth.AllTags()
	if err != nil {
		return fmt.Errorf("listing tags: %w", err)
	}
	found := false
	for _, t := range tags {
		if t == op.Name {
			found = true
			break
		}
	}
	if !found {
		return fuse.ENOENT
	}

	id, err := fs.cat.TagInode(op.Name, inodeid.TagDirLo, inodeid.TagDirHi)
	if err != nil {
		return fmt.Errorf("minting tag inode: %w", err)
	}
	op.Entry = fs.childEntry(id, syntheticDirAttrs(fs.uid, fs.gid))
	return nil
}

func (fs *fileSystem) lookupTagDirMember(op *fuseops.LookUpInodeOp, parentClass inodeid.Class) error {
	tag, ok, err := fs.cat.TagForInode(parentClass.TagDirID)
	if err != nil {
		return fmt.Errorf("resolving tag dir: %w", err)
	}
	if !ok {
		return fuse.ENOENT
	}

	entries, err := fs.synth.TagDirEntries(tag)
	if err != nil {
		return fmt.Errorf("listing tag members: %w", err)
	}
	for _, e := range entries {
		if e.Name == op.Name {
			attrs, err := fs.realAttrsByInode(e.InodeID)
			if err != nil {
				return err
			}
			op.Entry = fs.childEntry(e.InodeID, attrs)
			return nil
		}
	}
	return fuse.ENOENT
}

func (fs *fileSystem) lookupAPILeaf(op *fuseops.LookUpInodeOp) error {
	for i, leaf := range synthetic.APILeaves {
		if leaf.Name == op.Name {
			op.Entry = fs.childEntry(inodeid.ApiLeafOf(fuseops.InodeID(i)), syntheticFileAttrs(fs.uid, fs.gid, 0))
			return nil
		}
	}
	return fuse.ENOENT
}

func (fs *fileSystem) lookupWormholeLeaf(op *fuseops.LookUpInodeOp) error {
	for _, name := range fs.synth.WormholeEntries() {
		if name == op.Name {
			body := fs.synth.WormholeFileBody(name)
			id := inodeid.WormholeUpgrade
			if name != "UPGRADE_TO_PRO.txt" {
				id = inodeid.WormholeWelcome
			}
			op.Entry = fs.childEntry(id, syntheticFileAttrs(fs.uid, fs.gid, uint64(len(body))))
			return nil
		}
	}
	return fuse.ENOENT
}

// lookupReal resolves a name against the backing directory, minting a
// catalog row for it if one doesn't exist yet, with a .jpg-over-.png
// fallback for converted-image siblings that aren't on disk directly.
func (fs *fileSystem) lookupReal(op *fuseops.LookUpInodeOp) error {
	parentPath, err := resolver.Resolve(fs.cat, op.Parent)
	if err != nil {
		return fmt.Errorf("resolving parent %d: %w", op.Parent, err)
	}
	relPath := joinRel(parentPath, op.Name)

	info, statErr := fs.backing.Stat(relPath)
	if statErr == nil {
		id, err := fs.ensureCatalogEntry(op.Parent, op.Name)
		if err != nil {
			return err
		}
		op.Entry = fs.childEntry(id, statToAttrs(info, fs.uid, fs.gid))
		return nil
	}

	if pngName, ok := synthetic.PNGSiblingName(op.Name); ok {
		pngRel := joinRel(parentPath, pngName)
		if pngInfo, err := fs.backing.Stat(pngRel); err == nil {
			pngID, err := fs.ensureCatalogEntry(op.Parent, pngName)
			if err != nil {
				return err
			}
			size := synthetic.PlaceholderConvertedSize
			fs.mu.Lock()
			if cached, ok := fs.convSizes[pngID]; ok {
				size = int(cached)
			}
			fs.mu.Unlock()
			attrs := syntheticFileAttrs(fs.uid, fs.gid, uint64(size))
			attrs.Mtime = pngInfo.ModTime()
			op.Entry = fs.childEntry(inodeid.ConvertedViewOf(pngID), attrs)
			return nil
		}
	}

	return fuse.ENOENT
}

func (fs *fileSystem) ensureCatalogEntry(parent fuseops.InodeID, name string) (fuseops.InodeID, error) {
	id, err := fs.cat.Lookup(parent, name)
	if err == nil {
		return id, nil
	}
	if err != catalog.ErrNotFound {
		return 0, fmt.Errorf("looking up %s: %w", name, err)
	}
	id, err = fs.cat.Create(parent, name)
	if err != nil {
		return 0, fmt.Errorf("minting inode for %s: %w", name, err)
	}
	return id, nil
}

func (fs *fileSystem) realAttrsByInode(id fuseops.InodeID) (fuseops.InodeAttributes, error) {
	rel, err := resolver.Resolve(fs.cat, id)
	if err != nil {
		return fuseops.InodeAttributes{}, fmt.Errorf("resolving inode %d: %w", id, err)
	}
	info, err := fs.backing.Stat(rel)
	if err != nil {
		return fuseops.InodeAttributes{}, fuse.ENOENT
	}
	return statToAttrs(info, fs.uid, fs.gid), nil
}

func (fs *fileSystem) contextAttrs(dirClass inodeid.Class, dir fuseops.InodeID) (fuseops.InodeAttributes, error) {
	rel, err := resolver.Resolve(fs.cat, dir)
	if err != nil {
		return fuseops.InodeAttributes{}, fmt.Errorf("resolving dir %d: %w", dir, err)
	}
	doc, err := synthetic.ContextDocument(fs.backing.Abs(rel))
	if err != nil {
		return fuseops.InodeAttributes{}, fmt.Errorf("generating .context: %w", err)
	}
	return syntheticFileAttrs(fs.uid, fs.gid, uint64(len(doc))), nil
}

func joinRel(parentRel, name string) string {
	if parentRel == "" {
		return name
	}
	return parentRel + "/" + name
}

// GetInodeAttributes dispatches on the inode's class.
func (fs *fileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) (err error) {
	defer func() { fs.observe("GetInodeAttributes", err) }()

	class := inodeid.Classify(op.Inode)
	switch class.Kind {
	case inodeid.KindSingleton:
		op.Attributes, err = fs.singletonAttrs(class.Which)
	case inodeid.KindTagDir:
		op.Attributes = syntheticDirAttrs(fs.uid, fs.gid)
	case inodeid.KindContext:
		op.Attributes, err = fs.contextAttrs(class, class.Real)
	case inodeid.KindConvert:
		op.Attributes, err = fs.convertAttrs(class.Real)
	case inodeid.KindApiLeaf:
		op.Attributes = syntheticFileAttrs(fs.uid, fs.gid, 0)
	case inodeid.KindReal:
		op.Attributes, err = fs.realAttrsByInode(op.Inode)
	}
	return err
}

func (fs *fileSystem) singletonAttrs(which inodeid.Singleton) (fuseops.InodeAttributes, error) {
	switch which {
	case inodeid.SingletonRoot, inodeid.SingletonTags, inodeid.SingletonRecent,
		inodeid.SingletonApi, inodeid.SingletonWormhole:
		return syntheticDirAttrs(fs.uid, fs.gid), nil
	case inodeid.SingletonSearch:
		return syntheticFileAttrs(fs.uid, fs.gid, 0), nil
	case inodeid.SingletonStats:
		body, err := fs.synth.StatsMarkdown()
		if err != nil {
			return fuseops.InodeAttributes{}, fmt.Errorf("generating stats.md: %w", err)
		}
		return syntheticFileAttrs(fs.uid, fs.gid, uint64(len(body))), nil
	case inodeid.SingletonWormholeUpgrade:
		body := fs.synth.WormholeFileBody("UPGRADE_TO_PRO.txt")
		return syntheticFileAttrs(fs.uid, fs.gid, uint64(len(body))), nil
	case inodeid.SingletonWormholeWelcome:
		body := fs.synth.WormholeFileBody("welcome.md")
		return syntheticFileAttrs(fs.uid, fs.gid, uint64(len(body))), nil
	default:
		return fuseops.InodeAttributes{}, fuse.ENOENT
	}
}

func (fs *fileSystem) convertAttrs(pngID fuseops.InodeID) (fuseops.InodeAttributes, error) {
	fs.mu.Lock()
	cached, ok := fs.convSizes[pngID]
	fs.mu.Unlock()
	if ok {
		return syntheticFileAttrs(fs.uid, fs.gid, cached), nil
	}
	return syntheticFileAttrs(fs.uid, fs.gid, synthetic.PlaceholderConvertedSize), nil
}

// SetInodeAttributes supports truncate and chmod on real files only; every
// synthetic class rejects attribute changes.
func (fs *fileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) (err error) {
	defer func() { fs.observe("SetInodeAttributes", err) }()

	class := inodeid.Classify(op.Inode)
	if class.Kind != inodeid.KindReal {
		return fuse.ENOSYS
	}

	rel, err := resolver.Resolve(fs.cat, op.Inode)
	if err != nil {
		return fmt.Errorf("resolving inode %d: %w", op.Inode, err)
	}

	if op.Size != nil {
		if err := fs.backing.Truncate(rel, int64(*op.Size)); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}
	if op.Mode != nil {
		if err := fs.backing.Chmod(rel, *op.Mode); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}

	op.Attributes, err = fs.realAttrsByInode(op.Inode)
	return err
}

// ForgetInode is a no-op: the dispatcher keeps no per-inode lookup-count
// state to decrement, since durable structure lives entirely in the catalog.
func (fs *fileSystem) ForgetInode(op *fuseops.ForgetInodeOp) (err error) {
	defer func() { fs.observe("ForgetInode", err) }()
	return nil
}

func (fs *fileSystem) MkDir(op *fuseops.MkDirOp) (err error) {
	defer func() { fs.observe("MkDir", err) }()

	if inodeid.Classify(op.Parent).Kind != inodeid.KindReal {
		return fuse.ENOSYS
	}

	parentRel, err := resolver.Resolve(fs.cat, op.Parent)
	if err != nil {
		return fmt.Errorf("resolving parent %d: %w", op.Parent, err)
	}
	rel := joinRel(parentRel, op.Name)

	if err := fs.backing.Mkdir(rel, op.Mode|os.ModeDir); err != nil {
		if os.IsExist(err) {
			return fuse.EEXIST
		}
		return fmt.Errorf("mkdir: %w", err)
	}

	id, err := fs.cat.Create(op.Parent, op.Name)
	if err != nil {
		return fmt.Errorf("recording mkdir: %w", err)
	}

	attrs, err := fs.realAttrsByInode(id)
	if err != nil {
		return err
	}
	op.Entry = fs.childEntry(id, attrs)
	return nil
}

func (fs *fileSystem) CreateFile(op *fuseops.CreateFileOp) (err error) {
	defer func() { fs.observe("CreateFile", err) }()

	if inodeid.Classify(op.Parent).Kind != inodeid.KindReal {
		return fuse.ENOSYS
	}

	parentRel, err := resolver.Resolve(fs.cat, op.Parent)
	if err != nil {
		return fmt.Errorf("resolving parent %d: %w", op.Parent, err)
	}
	rel := joinRel(parentRel, op.Name)

	if err := fs.backing.Create(rel, op.Mode); err != nil {
		if os.IsExist(err) {
			return fuse.EEXIST
		}
		return fmt.Errorf("create: %w", err)
	}

	id, err := fs.cat.Create(op.Parent, op.Name)
	if err != nil {
		return fmt.Errorf("recording create: %w", err)
	}

	attrs, err := fs.realAttrsByInode(id)
	if err != nil {
		return err
	}
	op.Entry = fs.childEntry(id, attrs)
	op.Handle = fs.allocHandle()
	return nil
}

func (fs *fileSystem) RmDir(op *fuseops.RmDirOp) (err error) {
	defer func() { fs.observe("RmDir", err) }()

	if inodeid.Classify(op.Parent).Kind != inodeid.KindReal {
		return fuse.ENOSYS
	}

	parentRel, err := resolver.Resolve(fs.cat, op.Parent)
	if err != nil {
		return fmt.Errorf("resolving parent %d: %w", op.Parent, err)
	}
	rel := joinRel(parentRel, op.Name)

	entries, err := os.ReadDir(fs.backing.Abs(rel))
	if err != nil {
		return fmt.Errorf("reading dir %s: %w", rel, err)
	}
	if len(entries) != 0 {
		return fuse.ENOTEMPTY
	}

	id, lookErr := fs.cat.Lookup(op.Parent, op.Name)

	if err := fs.backing.Rmdir(rel); err != nil {
		return fmt.Errorf("rmdir: %w", err)
	}

	if lookErr == nil {
		if err := fs.cat.Delete(id); err != nil {
			return fmt.Errorf("recording rmdir: %w", err)
		}
	}
	return nil
}

func (fs *fileSystem) Unlink(op *fuseops.UnlinkOp) (err error) {
	defer func() { fs.observe("Unlink", err) }()

	if inodeid.Classify(op.Parent).Kind != inodeid.KindReal {
		return fuse.ENOSYS
	}

	parentRel, err := resolver.Resolve(fs.cat, op.Parent)
	if err != nil {
		return fmt.Errorf("resolving parent %d: %w", op.Parent, err)
	}
	rel := joinRel(parentRel, op.Name)

	id, lookErr := fs.cat.Lookup(op.Parent, op.Name)

	if err := fs.snap.TrashOnUnlink(rel, fs.clock.Now().Unix()); err != nil {
		return fmt.Errorf("trashing %s: %w", rel, err)
	}

	if lookErr == nil {
		if err := fs.cat.Delete(id); err != nil {
			return fmt.Errorf("recording unlink: %w", err)
		}
	}
	return nil
}

// Rename moves a real file or directory within the real tree, refusing to
// move a directory into its own descendant.
func (fs *fileSystem) Rename(op *fuseops.RenameOp) (err error) {
	defer func() { fs.observe("Rename", err) }()

	if inodeid.Classify(op.OldParent).Kind != inodeid.KindReal ||
		inodeid.Classify(op.NewParent).Kind != inodeid.KindReal {
		return fuse.ENOSYS
	}

	id, err := fs.cat.Lookup(op.OldParent, op.OldName)
	if err != nil {
		return fuse.ENOENT
	}

	if id == op.NewParent {
		return fuse.EINVAL
	}
	if isAncestor, err := fs.isAncestor(id, op.NewParent); err != nil {
		return err
	} else if isAncestor {
		return fuse.EINVAL
	}

	oldParentRel, err := resolver.Resolve(fs.cat, op.OldParent)
	if err != nil {
		return fmt.Errorf("resolving old parent: %w", err)
	}
	newParentRel, err := resolver.Resolve(fs.cat, op.NewParent)
	if err != nil {
		return fmt.Errorf("resolving new parent: %w", err)
	}

	if err := fs.backing.Rename(joinRel(oldParentRel, op.OldName), joinRel(newParentRel, op.NewName)); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	if err := fs.cat.Rename(id, op.NewParent, op.NewName); err != nil {
		return fmt.Errorf("recording rename: %w", err)
	}
	return nil
}

// isAncestor reports whether candidate is id or a descendant of id, by
// walking candidate's parent chain back to the root.
func (fs *fileSystem) isAncestor(id, candidate fuseops.InodeID) (bool, error) {
	cur := candidate
	for hop := 0; hop < 100; hop++ {
		if cur == id {
			return true, nil
		}
		if cur == catalog.RootInodeID {
			return false, nil
		}
		parent, _, err := fs.cat.Entry(cur)
		if err != nil {
			return false, fmt.Errorf("walking ancestry: %w", err)
		}
		if parent == cur {
			return false, nil
		}
		cur = parent
	}
	return false, fmt.Errorf("rename: ancestry walk exceeded hop limit")
}

func (fs *fileSystem) allocHandle() fuseops.HandleID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := fs.nextHandleID
	fs.nextHandleID++
	return h
}

func (fs *fileSystem) OpenFile(op *fuseops.OpenFileOp) (err error) {
	defer func() { fs.observe("OpenFile", err) }()
	op.Handle = fs.allocHandle()
	op.KeepPageCache = false
	return nil
}

// ReadFile routes the read by inode class: real passthrough, .context/.jpg
// generated content, api/ leaf fetch, stats.md, or an always-empty read for
// search.
func (fs *fileSystem) ReadFile(op *fuseops.ReadFileOp) (err error) {
	defer func() { fs.observe("ReadFile", err) }()

	class := inodeid.Classify(op.Inode)
	switch class.Kind {
	case inodeid.KindReal:
		rel, rerr := resolver.Resolve(fs.cat, op.Inode)
		if rerr != nil {
			return fmt.Errorf("resolving inode %d: %w", op.Inode, rerr)
		}
		op.Data, err = fs.backing.Read(op.Context(), rel, op.Offset, op.Size)
		return err

	case inodeid.KindContext:
		rel, rerr := resolver.Resolve(fs.cat, class.Real)
		if rerr != nil {
			return fmt.Errorf("resolving dir %d: %w", class.Real, rerr)
		}
		doc, derr := synthetic.ContextDocument(fs.backing.Abs(rel))
		if derr != nil {
			return fmt.Errorf("generating .context: %w", derr)
		}
		op.Data = synthetic.SliceBuffer(doc, op.Offset, op.Size)
		return nil

	case inodeid.KindConvert:
		rel, rerr := resolver.Resolve(fs.cat, class.Real)
		if rerr != nil {
			return fmt.Errorf("resolving png %d: %w", class.Real, rerr)
		}
		jpg, cerr := synthetic.ConvertPNGToJPEG(fs.backing.Abs(rel))
		if cerr != nil {
			return fmt.Errorf("converting to jpeg: %w", cerr)
		}
		fs.mu.Lock()
		fs.convSizes[class.Real] = uint64(len(jpg))
		fs.mu.Unlock()
		op.Data = synthetic.SliceBuffer(jpg, op.Offset, op.Size)
		return nil

	case inodeid.KindApiLeaf:
		if int(class.Real) >= len(synthetic.APILeaves) {
			return fuse.ENOENT
		}
		name := synthetic.APILeaves[class.Real].Name
		body, aerr := fs.synth.APILeafBody(op.Context(), name)
		if aerr != nil {
			return fmt.Errorf("fetching %s: %w", name, aerr)
		}
		op.Data = synthetic.SliceBuffer(body, op.Offset, op.Size)
		return nil

	case inodeid.KindSingleton:
		switch class.Which {
		case inodeid.SingletonStats:
			body, serr := fs.synth.StatsMarkdown()
			if serr != nil {
				return fmt.Errorf("generating stats.md: %w", serr)
			}
			op.Data = synthetic.SliceBuffer(body, op.Offset, op.Size)
			return nil
		case inodeid.SingletonSearch:
			op.Data = nil
			return nil
		case inodeid.SingletonWormholeUpgrade:
			body := fs.synth.WormholeFileBody("UPGRADE_TO_PRO.txt")
			op.Data = synthetic.SliceBuffer(body, op.Offset, op.Size)
			return nil
		case inodeid.SingletonWormholeWelcome:
			body := fs.synth.WormholeFileBody("welcome.md")
			op.Data = synthetic.SliceBuffer(body, op.Offset, op.Size)
			return nil
		}
	}

	return fuse.ENOSYS
}

// WriteFile routes the write by inode class: real files snapshot-then-write,
// search accepts and discards, everything else is read-only.
func (fs *fileSystem) WriteFile(op *fuseops.WriteFileOp) (err error) {
	defer func() { fs.observe("WriteFile", err) }()

	class := inodeid.Classify(op.Inode)

	switch class.Kind {
	case inodeid.KindReal:
		rel, rerr := resolver.Resolve(fs.cat, op.Inode)
		if rerr != nil {
			return fmt.Errorf("resolving inode %d: %w", op.Inode, rerr)
		}
		fs.snap.SnapshotBeforeWrite(op.Inode, rel, fs.clock.Now().Unix())

		if _, werr := fs.backing.Write(rel, op.Offset, op.Data); werr != nil {
			return fmt.Errorf("writing: %w", werr)
		}
		return nil

	case inodeid.KindSingleton:
		if class.Which == inodeid.SingletonSearch {
			fs.synth.LogSearchQuery(op.Data)
			return nil
		}
	}

	return fuse.ENOSYS
}

// ReleaseFileHandle always replies OK; analysis is enqueued from FlushFile
// instead, since ReleaseFileHandleOp carries no inode to resolve a path from.
func (fs *fileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) (err error) {
	defer func() { fs.observe("ReleaseFileHandle", err) }()
	return nil
}

// enqueueAnalysis feeds the analyzer queue from Flush rather than Release,
// since ReleaseFileHandleOp carries only a Handle, not an Inode, and handles
// here are not tracked per-file.
func (fs *fileSystem) enqueueAnalysis(inode fuseops.InodeID) {
	if inodeid.Classify(inode).Kind != inodeid.KindReal {
		return
	}
	rel, err := resolver.Resolve(fs.cat, inode)
	if err != nil {
		return
	}
	fs.analyzerQ.Enqueue(analyzer.Job{Inode: inode, Path: fs.backing.Abs(rel)})
}

// FlushFile enqueues the post-write analysis job, since reopening a file on
// every call means there is no buffered local state to sync here.
func (fs *fileSystem) FlushFile(op *fuseops.FlushFileOp) (err error) {
	defer func() { fs.observe("FlushFile", err) }()
	fs.enqueueAnalysis(op.Inode)
	return nil
}
