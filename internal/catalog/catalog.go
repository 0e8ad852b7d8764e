// Package catalog implements the persistent inode catalog: the (parent,
// name) <-> inode mapping, the tag index, the write-history log, and the
// trash log. It is backed by SQLite in WAL mode, opened independently by
// the dispatcher and the analyzer.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/jacobsa/fuse/fuseops"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("catalog: not found")

// RootInodeID is the self-parented root row's id, matching fuseops.RootInodeID.
const RootInodeID = fuseops.InodeID(fuseops.RootInodeID)

const schema = `
CREATE TABLE IF NOT EXISTS inodes (
	id        INTEGER PRIMARY KEY,
	parent_id INTEGER NOT NULL,
	name      TEXT NOT NULL,
	UNIQUE(parent_id, name)
);

CREATE TABLE IF NOT EXISTS file_tags (
	inode_id INTEGER NOT NULL,
	tag      TEXT NOT NULL,
	PRIMARY KEY (inode_id, tag)
);

CREATE TABLE IF NOT EXISTS file_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	inode_id    INTEGER NOT NULL,
	timestamp   INTEGER NOT NULL,
	backup_path TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trash (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	original_path TEXT NOT NULL,
	backup_path   TEXT NOT NULL,
	deleted_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_inodes (
	id  INTEGER PRIMARY KEY,
	tag TEXT NOT NULL UNIQUE
);
`

// Catalog is a handle onto the SQLite-backed tables. Safe for concurrent use;
// the dispatcher and the analyzer each construct their own Catalog over the
// same file (database/sql pools and serializes internally, and SQLite's WAL
// mode allows one writer concurrent with readers).
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database at path, ensures
// the schema exists, and seeds the self-parented root row.
func Open(path string) (*Catalog, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	c := &Catalog{db: db}
	if err := c.ensureRoot(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensureRoot: %w", err)
	}

	return c, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) ensureRoot() error {
	_, err := c.db.Exec(
		`INSERT INTO inodes (id, parent_id, name) VALUES (?, ?, '')
		 ON CONFLICT(parent_id, name) DO NOTHING`,
		RootInodeID, RootInodeID)
	return err
}

// Lookup finds the inode id for (parent, name), if any.
func (c *Catalog) Lookup(parent fuseops.InodeID, name string) (fuseops.InodeID, error) {
	var id fuseops.InodeID
	err := c.db.QueryRow(
		`SELECT id FROM inodes WHERE parent_id = ? AND name = ?`,
		parent, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying inode: %w", err)
	}
	return id, nil
}

// Create inserts a new (parent, name) row and returns its freshly-minted id.
// Callers must Lookup first; a duplicate (parent, name) is a caller bug, not
// something this method silently resolves, per the catalog's unique-index
// contract.
func (c *Catalog) Create(parent fuseops.InodeID, name string) (fuseops.InodeID, error) {
	res, err := c.db.Exec(
		`INSERT INTO inodes (parent_id, name) VALUES (?, ?)`,
		parent, name)
	if err != nil {
		return 0, fmt.Errorf("inserting inode: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("LastInsertId: %w", err)
	}
	return fuseops.InodeID(id), nil
}

// Entry returns the (parent, name) of inode id.
func (c *Catalog) Entry(id fuseops.InodeID) (parent fuseops.InodeID, name string, err error) {
	err = c.db.QueryRow(
		`SELECT parent_id, name FROM inodes WHERE id = ?`, id).Scan(&parent, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", ErrNotFound
	}
	if err != nil {
		return 0, "", fmt.Errorf("querying entry: %w", err)
	}
	return parent, name, nil
}

// Delete removes the row for inode id. Deleting a nonexistent id is a no-op.
func (c *Catalog) Delete(id fuseops.InodeID) error {
	_, err := c.db.Exec(`DELETE FROM inodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting inode: %w", err)
	}
	return nil
}

// Rename updates the (parent, name) of an existing inode row in place.
func (c *Catalog) Rename(id, newParent fuseops.InodeID, newName string) error {
	_, err := c.db.Exec(
		`UPDATE inodes SET parent_id = ?, name = ? WHERE id = ?`,
		newParent, newName, id)
	if err != nil {
		return fmt.Errorf("renaming inode: %w", err)
	}
	return nil
}

// AddTag upserts (inode, tag); repeated calls are idempotent.
func (c *Catalog) AddTag(id fuseops.InodeID, tag string) error {
	_, err := c.db.Exec(
		`INSERT INTO file_tags (inode_id, tag) VALUES (?, ?)
		 ON CONFLICT(inode_id, tag) DO NOTHING`,
		id, tag)
	if err != nil {
		return fmt.Errorf("adding tag: %w", err)
	}
	return nil
}

// ListTags returns every distinct tag currently recorded.
func (c *Catalog) ListTags() ([]string, error) {
	rows, err := c.db.Query(`SELECT DISTINCT tag FROM file_tags ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// TagCounts returns, for every tag, the number of files carrying it. Used to
// render stats.md.
func (c *Catalog) TagCounts() (map[string]int, error) {
	rows, err := c.db.Query(
		`SELECT tag, COUNT(*) FROM file_tags GROUP BY tag ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("counting tags: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tag string
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, fmt.Errorf("scanning tag count: %w", err)
		}
		counts[tag] = n
	}
	return counts, rows.Err()
}

// FileWithTag describes one file carrying a tag, for directory listings.
type FileWithTag struct {
	InodeID fuseops.InodeID
	Name    string
}

// FilesWithTag returns every real file tagged with tag, by walking its (now
// orphaned-of-path) inode id back to a leaf name via the inodes table.
func (c *Catalog) FilesWithTag(tag string) ([]FileWithTag, error) {
	rows, err := c.db.Query(
		`SELECT file_tags.inode_id, inodes.name
		   FROM file_tags JOIN inodes ON inodes.id = file_tags.inode_id
		  WHERE file_tags.tag = ?
		  ORDER BY inodes.name`, tag)
	if err != nil {
		return nil, fmt.Errorf("listing files with tag: %w", err)
	}
	defer rows.Close()

	var out []FileWithTag
	for rows.Next() {
		var f FileWithTag
		if err := rows.Scan(&f.InodeID, &f.Name); err != nil {
			return nil, fmt.Errorf("scanning file with tag: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AppendHistory records a pre-write snapshot.
func (c *Catalog) AppendHistory(id fuseops.InodeID, unixTS int64, backupPath string) error {
	_, err := c.db.Exec(
		`INSERT INTO file_history (inode_id, timestamp, backup_path) VALUES (?, ?, ?)`,
		id, unixTS, backupPath)
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// HistoryEntry describes one row of file_history, newest first from RecentlyWritten.
type HistoryEntry struct {
	InodeID    fuseops.InodeID
	Timestamp  int64
	BackupPath string
}

// RecentlyWritten returns, across all inodes, the limit most recently
// written-to files by their latest file_history timestamp. Used by recent/.
func (c *Catalog) RecentlyWritten(limit int) ([]HistoryEntry, error) {
	rows, err := c.db.Query(
		`SELECT inode_id, MAX(timestamp) AS ts, backup_path
		   FROM file_history
		  GROUP BY inode_id
		  ORDER BY ts DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.InodeID, &h.Timestamp, &h.BackupPath); err != nil {
			return nil, fmt.Errorf("scanning recent history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AppendTrash records an unlinked file's move-to-trash.
func (c *Catalog) AppendTrash(originalPath, backupPath string, unixTS int64) error {
	_, err := c.db.Exec(
		`INSERT INTO trash (original_path, backup_path, deleted_at) VALUES (?, ?, ?)`,
		originalPath, backupPath, unixTS)
	if err != nil {
		return fmt.Errorf("appending trash: %w", err)
	}
	return nil
}

// TagInode returns the stable inode allocated to tag, minting one from the
// tag_inodes table if this is the first time the tag has been seen. This
// replaces the lossy hash scheme flagged in DESIGN.md: the inode space for
// tag directories (TagDirLo..TagDirHi) is handed out by a counter that
// steps down from hi and is recorded durably, so inode -> tag is a table
// read, not a guess.
func (c *Catalog) TagInode(tag string, lo, hi fuseops.InodeID) (fuseops.InodeID, error) {
	var id fuseops.InodeID
	err := c.db.QueryRow(`SELECT id FROM tag_inodes WHERE tag = ?`, tag).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("querying tag_inodes: %w", err)
	}

	// Slots are handed out counting down from hi, so that the carved-out tag
	// range never collides with real inodes (allocated monotonically upward
	// from 2): the first tag gets hi, the next gets hi-1, and so on until lo
	// is exhausted.
	var minID sql.NullInt64
	if err := c.db.QueryRow(`SELECT MIN(id) FROM tag_inodes`).Scan(&minID); err != nil {
		return 0, fmt.Errorf("finding min tag inode: %w", err)
	}

	next := hi
	if minID.Valid {
		next = fuseops.InodeID(minID.Int64) - 1
	}
	if next < lo || next > hi {
		return 0, fmt.Errorf("exhausted tag inode range [%d, %d]", lo, hi)
	}

	if _, err := c.db.Exec(`INSERT INTO tag_inodes (id, tag) VALUES (?, ?)`, next, tag); err != nil {
		return 0, fmt.Errorf("inserting tag_inodes: %w", err)
	}
	return next, nil
}

// TagForInode reverses TagInode.
func (c *Catalog) TagForInode(id fuseops.InodeID) (string, bool, error) {
	var tag string
	err := c.db.QueryRow(`SELECT tag FROM tag_inodes WHERE id = ?`, id).Scan(&tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying tag_inodes: %w", err)
	}
	return tag, true, nil
}

// IsIgnorable reports whether name matches the host's common ignore-file
// conventions, used by the .context walk to skip build artifacts.
func IsIgnorable(name string) bool {
	switch name {
	case ".git", ".eidetic", "node_modules", "target", "vendor", ".eidetic.db",
		".eidetic.db-wal", ".eidetic.db-shm":
		return true
	}
	return strings.HasPrefix(name, ".")
}
