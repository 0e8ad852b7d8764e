// Package backing implements the passthrough I/O layer:
// create/open/read/write/mkdir/rmdir/unlink/rename/setattr against the
// source directory, with the vault-encryption and .url-dereference hooks
// interposed on the read/write path.
package backing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/DrSkyle/eidetic/internal/httpfetch"
	"github.com/DrSkyle/eidetic/internal/vaultcipher"
)

// Layer performs I/O against sourceRoot, applying the vault and .url hooks.
type Layer struct {
	sourceRoot string
	fetcher    *httpfetch.Client
}

func New(sourceRoot string, fetcher *httpfetch.Client) *Layer {
	return &Layer{sourceRoot: sourceRoot, fetcher: fetcher}
}

// Abs joins a resolver-produced relative path onto the source root.
func (l *Layer) Abs(relPath string) string {
	return filepath.Join(l.sourceRoot, relPath)
}

// IsVaultPath reports whether abs contains the /vault/ segment, per the
// glossary's definition of the vault boundary.
func IsVaultPath(abs string) bool {
	return strings.Contains(filepath.ToSlash(abs), "/vault/")
}

// Stat wraps os.Stat for getattr/lookup handlers.
func (l *Layer) Stat(relPath string) (os.FileInfo, error) {
	return os.Stat(l.Abs(relPath))
}

// Read returns up to size bytes from relPath starting at off, applying the
// vault decrypt hook and the .url dereference override.
func (l *Layer) Read(ctx context.Context, relPath string, off int64, size int) ([]byte, error) {
	abs := l.Abs(relPath)

	if isURLFile(abs) {
		return l.readURLFile(ctx, abs, off, size)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", abs, err)
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, off)
	if err != nil && n == 0 && err.Error() != "EOF" {
		return nil, fmt.Errorf("reading %s: %w", abs, err)
	}
	buf = buf[:n]

	if IsVaultPath(abs) {
		buf = vaultcipher.Decrypt(buf, off)
	}

	return buf, nil
}

// Write writes data at off to relPath, applying the vault encrypt hook, and
// returns the number of bytes written.
func (l *Layer) Write(relPath string, off int64, data []byte) (int, error) {
	abs := l.Abs(relPath)

	if IsVaultPath(abs) {
		data = vaultcipher.Encrypt(data, off)
	}

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening %s for write: %w", abs, err)
	}
	defer f.Close()

	n, err := f.WriteAt(data, off)
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", abs, err)
	}
	return n, nil
}

func (l *Layer) Create(relPath string, mode os.FileMode) error {
	f, err := os.OpenFile(l.Abs(relPath), os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", l.Abs(relPath), err)
	}
	return f.Close()
}

func (l *Layer) Mkdir(relPath string, mode os.FileMode) error {
	if err := os.Mkdir(l.Abs(relPath), mode); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.Abs(relPath), err)
	}
	return nil
}

func (l *Layer) Rmdir(relPath string) error {
	if err := os.Remove(l.Abs(relPath)); err != nil {
		return fmt.Errorf("rmdir %s: %w", l.Abs(relPath), err)
	}
	return nil
}

func (l *Layer) Unlink(relPath string) error {
	if err := os.Remove(l.Abs(relPath)); err != nil {
		return fmt.Errorf("unlink %s: %w", l.Abs(relPath), err)
	}
	return nil
}

func (l *Layer) Rename(oldRel, newRel string) error {
	if err := os.Rename(l.Abs(oldRel), l.Abs(newRel)); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", oldRel, newRel, err)
	}
	return nil
}

func (l *Layer) Truncate(relPath string, size int64) error {
	if err := os.Truncate(l.Abs(relPath), size); err != nil {
		return fmt.Errorf("truncate %s: %w", l.Abs(relPath), err)
	}
	return nil
}

func (l *Layer) Chmod(relPath string, mode os.FileMode) error {
	if err := os.Chmod(l.Abs(relPath), mode); err != nil {
		return fmt.Errorf("chmod %s: %w", l.Abs(relPath), err)
	}
	return nil
}

func isURLFile(abs string) bool {
	if filepath.Ext(abs) != ".url" {
		return false
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(string(data)), "http")
}

// readURLFile dereferences a .url file: the returned bytes are the fetched
// HTTP body, not the file's on-disk content. This is a deliberate semantic
// override for files whose content is a bare "http..." URL.
func (l *Layer) readURLFile(ctx context.Context, abs string, off int64, size int) ([]byte, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading .url file %s: %w", abs, err)
	}
	url := strings.TrimSpace(string(data))

	body, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dereferencing %s: %w", abs, err)
	}

	return sliceBuffer(body, off, size), nil
}

// sliceBuffer applies offset/size slicing to an in-memory buffer, the
// pattern every synthetic-content handler (C4, .url) shares.
func sliceBuffer(buf []byte, off int64, size int) []byte {
	if off < 0 || off >= int64(len(buf)) {
		return nil
	}
	end := off + int64(size)
	if end > int64(len(buf)) {
		end = int64(len(buf))
	}
	return buf[off:end]
}
