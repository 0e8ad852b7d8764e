// Package synthetic serves the fixed .magic/ subtree and per-directory
// .context views: tags/, recent/, search, api/, wormhole/, stats.md. Every
// method here is a pure content generator; the dispatcher is responsible
// for mapping inode numbers onto calls into this package and for
// offset/size slicing of the results.
package synthetic

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/DrSkyle/eidetic/internal/catalog"
	"github.com/DrSkyle/eidetic/internal/httpfetch"
	"github.com/DrSkyle/eidetic/internal/license"
)

// contextAllowExt is the fixed allow-list of source-code extensions .context
// includes.
var contextAllowExt = map[string]bool{
	".rs": true, ".toml": true, ".md": true, ".txt": true, ".js": true,
	".ts": true, ".jsx": true, ".tsx": true, ".json": true, ".py": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".go": true,
	".java": true, ".kt": true, ".swift": true, ".html": true, ".css": true,
	".scss": true, ".sql": true, ".sh": true, ".yaml": true, ".yml": true,
}

// apiLeaf is one fixed entry under api/.
type apiLeaf struct {
	Name string
	URL  string
}

// APILeaves is the fixed, compile-time list of api/*.json leaves. Each slot
// number (its index) is what C3's ApiLeafOf encodes into an inode.
var APILeaves = []apiLeaf{
	{Name: "bitcoin.json", URL: "https://api.coindesk.com/v1/bpi/currentprice.json"},
	{Name: "weather.json", URL: "https://wttr.in/?format=j1"},
}

// Namespace holds the collaborators C4 content generation needs.
type Namespace struct {
	cat      *catalog.Catalog
	fetcher  *httpfetch.Client
	licenser license.Checker
	log      *slog.Logger

	mu         sync.Mutex
	lastSearch string
}

func New(cat *catalog.Catalog, fetcher *httpfetch.Client, licenser license.Checker, log *slog.Logger) *Namespace {
	return &Namespace{cat: cat, fetcher: fetcher, licenser: licenser, log: log}
}

// StatsMarkdown generates stats.md's body from the current tag table.
func (n *Namespace) StatsMarkdown() ([]byte, error) {
	counts, err := n.cat.TagCounts()
	if err != nil {
		return nil, fmt.Errorf("loading tag counts: %w", err)
	}

	tags := make([]string, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	var b strings.Builder
	b.WriteString("# eidetic stats\n\n")
	b.WriteString("| tag | files |\n|---|---|\n")
	for _, t := range tags {
		fmt.Fprintf(&b, "| %s | %d |\n", t, counts[t])
	}

	return []byte(b.String()), nil
}

// TagEntry is one file listed inside tags/<tag>/.
type TagEntry = catalog.FileWithTag

// TagDirEntries lists the files carrying tag.
func (n *Namespace) TagDirEntries(tag string) ([]TagEntry, error) {
	return n.cat.FilesWithTag(tag)
}

// AllTags lists every distinct tag, for tags/ itself.
func (n *Namespace) AllTags() ([]string, error) {
	return n.cat.ListTags()
}

// RecentEntry is one file listed inside recent/.
type RecentEntry struct {
	InodeID uint64
	Name    string
}

const recentLimit = 20

// RecentEntries lists the most recently written-to real files, resolved
// against their current catalog name (see SPEC_FULL.md §4.4 for why this
// queries real history instead of serving a fixed listing).
func (n *Namespace) RecentEntries() ([]RecentEntry, error) {
	hist, err := n.cat.RecentlyWritten(recentLimit)
	if err != nil {
		return nil, fmt.Errorf("loading recent history: %w", err)
	}

	out := make([]RecentEntry, 0, len(hist))
	for _, h := range hist {
		_, name, err := n.cat.Entry(h.InodeID)
		if err != nil {
			continue // the file may since have been unlinked; skip silently
		}
		out = append(out, RecentEntry{InodeID: uint64(h.InodeID), Name: name})
	}
	return out, nil
}

// LogSearchQuery records a write to search; the full write is acknowledged
// regardless of what becomes of the query.
func (n *Namespace) LogSearchQuery(data []byte) {
	q := string(data)
	n.mu.Lock()
	n.lastSearch = q
	n.mu.Unlock()
	if n.log != nil {
		n.log.Info("search query received", "query", q)
	}
}

// WormholeEntries lists wormhole/'s children: a placeholder upsell file
// unless the license collaborator reports an active license.
func (n *Namespace) WormholeEntries() []string {
	if n.licenser != nil && n.licenser.IsActive() {
		return []string{"welcome.md"}
	}
	return []string{"UPGRADE_TO_PRO.txt"}
}

// WormholeFileBody returns the body of a wormhole/ leaf.
func (n *Namespace) WormholeFileBody(name string) []byte {
	switch name {
	case "UPGRADE_TO_PRO.txt":
		return []byte("This feature requires an active eidetic license.\n")
	case "welcome.md":
		return []byte("# wormhole\n\nLicense active. Nothing here yet.\n")
	default:
		return nil
	}
}

// APILeafBody performs the outbound fetch for api/<name>.json.
func (n *Namespace) APILeafBody(ctx context.Context, name string) ([]byte, error) {
	for _, leaf := range APILeaves {
		if leaf.Name == name {
			return n.fetcher.Fetch(ctx, leaf.URL)
		}
	}
	return nil, fmt.Errorf("no such api leaf %q", name)
}

// ContextDocument walks the real directory at absDir and renders an
// allow-listed, fenced-code-block markdown document of its contents.
func ContextDocument(absDir string) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# context: %s\n\n", filepath.Base(absDir))

	err := filepath.Walk(absDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort walk; skip unreadable entries
		}
		name := info.Name()
		if info.IsDir() {
			if catalog.IsIgnorable(name) && path != absDir {
				return filepath.SkipDir
			}
			return nil
		}
		if catalog.IsIgnorable(name) {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(name))
		if !contextAllowExt[ext] {
			return nil
		}

		rel, _ := filepath.Rel(absDir, path)
		appendFencedBlock(&b, rel, path, ext)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absDir, err)
	}

	return []byte(b.String()), nil
}

func appendFencedBlock(b *strings.Builder, rel, absPath, ext string) {
	f, err := os.Open(absPath)
	if err != nil {
		return
	}
	defer f.Close()

	fmt.Fprintf(b, "## %s\n\n```%s\n", rel, strings.TrimPrefix(ext, "."))
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	b.WriteString("```\n\n")
}

// SliceBuffer applies offset/size slicing to an in-memory generated buffer,
// the pattern every C4 object's read shares.
func SliceBuffer(buf []byte, off int64, size int) []byte {
	if off < 0 || off >= int64(len(buf)) {
		return nil
	}
	end := off + int64(size)
	if end > int64(len(buf)) {
		end = int64(len(buf))
	}
	return buf[off:end]
}
