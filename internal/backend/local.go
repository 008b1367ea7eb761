package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/archive"
	"github.com/great-horn/backup/internal/db"
)

// LocalBackend serves a job whose destination is a directory on the local
// filesystem. Archives are literal files under the destination root.
type LocalBackend struct {
	root   string
	logger *zap.Logger
}

// NewLocalBackend creates a LocalBackend rooted at root.
func NewLocalBackend(root string, logger *zap.Logger) *LocalBackend {
	return &LocalBackend{
		root:   root,
		logger: logger.Named("local_backend"),
	}
}

// Kind implements Backend.
func (b *LocalBackend) Kind() db.BackendType { return db.BackendLocal }

// Root returns the destination root directory.
func (b *LocalBackend) Root() string { return b.root }

// ListArchives scans the destination root for .tar.zst files and returns
// their descriptors sorted most recent first. A missing or unreadable root
// yields an empty slice — the caller cannot distinguish "no backups yet"
// from "destination unavailable" here, only the log can.
func (b *LocalBackend) ListArchives(_ context.Context) []ArchiveDescriptor {
	dirents, err := os.ReadDir(b.root)
	if err != nil {
		b.logger.Warn("archive listing failed", zap.String("root", b.root), zap.Error(err))
		return nil
	}

	var archives []ArchiveDescriptor
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), archive.Ext) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		desc := ArchiveDescriptor{
			Filename:  de.Name(),
			SizeBytes: info.Size(),
		}
		if ts, ok := archive.ParseTimestamp(de.Name()); ok {
			desc.Timestamp = ts
		} else {
			desc.Timestamp = info.ModTime()
		}
		archives = append(archives, desc)
	}

	sortDescriptors(archives)
	return archives
}

// OpenEntryStream opens the named archive under the destination root.
// The resolved path must stay inside the root — a filename crafted to
// escape it is rejected before any file I/O.
func (b *LocalBackend) OpenEntryStream(_ context.Context, filename string) (*archive.Reader, error) {
	path, err := b.resolve(filename)
	if err != nil {
		return nil, err
	}
	return archive.Open(path)
}

// StatMirrorRoot reports whether the mirror root exists and its mtime.
func (b *LocalBackend) StatMirrorRoot(_ context.Context) MirrorInfo {
	info, err := os.Stat(b.root)
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.Warn("mirror root stat failed", zap.String("root", b.root), zap.Error(err))
		}
		return MirrorInfo{}
	}
	return MirrorInfo{Exists: true, ModTime: info.ModTime()}
}

// resolve joins name onto the destination root and verifies the result
// still canonicalizes under the root.
func (b *LocalBackend) resolve(name string) (string, error) {
	path := filepath.Join(b.root, name)
	if !PathWithin(path, b.root) {
		return "", fmt.Errorf("backend: archive %q: %w", name, ErrPathEscapes)
	}
	return path, nil
}

// PathWithin reports whether path, after canonicalization, stays under
// root. Symlinks in existing path components are resolved so a link
// pointing outside the root cannot be used to escape it.
func PathWithin(path, root string) bool {
	canonPath := canonicalize(path)
	canonRoot := canonicalize(root)
	if canonPath == canonRoot {
		return true
	}
	return strings.HasPrefix(canonPath, canonRoot+string(filepath.Separator))
}

// canonicalize resolves symlinks on the longest existing prefix of path and
// re-joins the non-existing remainder, so paths that are about to be created
// can still be checked.
func canonicalize(path string) string {
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	dir, base := filepath.Split(path)
	dir = filepath.Clean(dir)
	if dir == path {
		return path
	}
	return filepath.Join(canonicalize(dir), base)
}
