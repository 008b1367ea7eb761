package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/great-horn/backup/internal/archive"
	"github.com/great-horn/backup/internal/db"
)

// RcloneBackend serves a job whose destination lives on an rclone remote.
// The remote only exposes flat list and copy primitives, so browsing or
// searching an archive first downloads it, whole, into the local cache.
type RcloneBackend struct {
	// locator is the rclone "remote:path" destination.
	locator  string
	cacheDir string
	runner   Runner
	logger   *zap.Logger

	// downloads collapses concurrent cache misses for the same cache path
	// into one transfer. The group is shared across every backend built by
	// the same Factory — backends are constructed per operation, so an
	// instance-local group would never see the concurrent caller. Combined
	// with write-to-temp-then-rename, a reader can never observe a
	// truncated file at the cache key.
	downloads *singleflight.Group
}

// NewRcloneBackend creates a backend for the given "remote:path" locator.
// Downloaded archives are cached under cacheDir, keyed by filename.
// downloads must be shared by every backend using the same cacheDir.
func NewRcloneBackend(locator, cacheDir string, runner Runner, logger *zap.Logger, downloads *singleflight.Group) *RcloneBackend {
	return &RcloneBackend{
		locator:   locator,
		cacheDir:  cacheDir,
		runner:    runner,
		logger:    logger.Named("rclone_backend").With(zap.String("remote", locator)),
		downloads: downloads,
	}
}

// Kind implements Backend.
func (b *RcloneBackend) Kind() db.BackendType { return db.BackendRemote }

// Locator returns the rclone "remote:path" destination.
func (b *RcloneBackend) Locator() string { return b.locator }

// ListArchives lists .tar.zst files at the remote root, one level deep.
// Failures degrade to an empty slice with the cause logged.
func (b *RcloneBackend) ListArchives(ctx context.Context) []ArchiveDescriptor {
	out, err := b.runner.Run(ctx, listTimeout, "rclone",
		"lsf", b.locator, "--include", "*"+archive.Ext, "--format", "sp")
	if err != nil {
		b.logger.Warn("remote archive listing failed", zap.Error(err))
		return nil
	}

	var archives []ArchiveDescriptor
	for _, rf := range parseLsf(out) {
		if rf.Dir {
			continue
		}
		desc := ArchiveDescriptor{
			Filename:  rf.Path,
			SizeBytes: rf.Size,
		}
		if ts, ok := archive.ParseTimestamp(rf.Path); ok {
			desc.Timestamp = ts
		}
		archives = append(archives, desc)
	}

	sortDescriptors(archives)
	return archives
}

// OpenEntryStream downloads the named archive into the cache (or reuses a
// previous download) and opens it for sequential reading.
func (b *RcloneBackend) OpenEntryStream(ctx context.Context, filename string) (*archive.Reader, error) {
	local, err := b.Download(ctx, filename)
	if err != nil {
		return nil, err
	}
	return archive.Open(local)
}

// StatMirrorRoot issues a directory-only one-level listing as an existence
// probe. The remote does not report a root mtime.
func (b *RcloneBackend) StatMirrorRoot(ctx context.Context) MirrorInfo {
	_, err := b.runner.Run(ctx, listTimeout, "rclone",
		"lsf", b.locator, "--max-depth", "1", "--dirs-only")
	if err != nil {
		b.logger.Warn("remote mirror probe failed", zap.Error(err))
		return MirrorInfo{}
	}
	return MirrorInfo{Exists: true}
}

// ListDir lists one level of the remote directory at sub (relative to the
// locator; "" for the root). Advisory: failures yield (nil, err) so the
// browse handler can report "remote path not found".
func (b *RcloneBackend) ListDir(ctx context.Context, sub string) ([]RemoteFile, error) {
	target := b.locator
	if sub != "" {
		target = b.locator + "/" + strings.TrimSuffix(sub, "/")
	}
	out, err := b.runner.Run(ctx, listTimeout, "rclone",
		"lsf", target, "--format", "sp", "--max-depth", "1")
	if err != nil {
		return nil, fmt.Errorf("backend: remote listing of %q: %w", sub, err)
	}
	return parseLsf(out), nil
}

// ListRecursive returns every file under the remote root as a flat listing.
// Used by the search engine for direct-mode jobs. Advisory: failures
// degrade to an empty slice.
func (b *RcloneBackend) ListRecursive(ctx context.Context) []RemoteFile {
	out, err := b.runner.Run(ctx, listTimeout, "rclone",
		"lsf", b.locator, "--recursive", "--format", "sp", "--files-only")
	if err != nil {
		b.logger.Warn("remote recursive listing failed", zap.Error(err))
		return nil
	}
	return parseLsf(out)
}

// CopyFile copies a single remote file at rel into dst (a local file path).
// When rel turns out to be a directory, the copy is retried as a directory
// copy into dst.
func (b *RcloneBackend) CopyFile(ctx context.Context, rel, dst string) error {
	remote := b.locator + "/" + rel
	if _, err := b.runner.Run(ctx, copyTimeout, "rclone", "copyto", remote, dst); err == nil {
		return nil
	}
	if _, err := b.runner.Run(ctx, copyTimeout, "rclone", "copy", remote, dst); err != nil {
		return fmt.Errorf("backend: remote copy of %q: %w", rel, err)
	}
	return nil
}

// CopyAll copies the whole remote tree into the local directory dst.
func (b *RcloneBackend) CopyAll(ctx context.Context, dst string) error {
	if _, err := b.runner.Run(ctx, copyTimeout, "rclone", "copy", b.locator, dst); err != nil {
		return fmt.Errorf("backend: remote tree copy: %w", err)
	}
	return nil
}

// Download fetches the named archive into the local cache and returns the
// cached path. A prior non-empty download at the cache key is reused
// without a second transfer. On failure no partial file remains at the key.
func (b *RcloneBackend) Download(ctx context.Context, filename string) (string, error) {
	local := filepath.Join(b.cacheDir, filename)
	if !PathWithin(local, b.cacheDir) {
		return "", fmt.Errorf("backend: archive %q: %w", filename, ErrPathEscapes)
	}

	// Cache hit: a non-empty file at the key is safe to reuse.
	if info, err := os.Stat(local); err == nil && info.Size() > 0 {
		return local, nil
	}

	_, err, _ := b.downloads.Do(local, func() (any, error) {
		return nil, b.fetch(ctx, filename, local)
	})
	if err != nil {
		return "", err
	}
	return local, nil
}

// fetch performs the actual transfer: download to a temp name in the cache
// directory, then rename into place. The rename is atomic, so a concurrent
// reader either sees no file or the complete one.
func (b *RcloneBackend) fetch(ctx context.Context, filename, local string) error {
	if err := os.MkdirAll(b.cacheDir, 0o755); err != nil {
		return fmt.Errorf("backend: create cache dir: %w", err)
	}

	// Re-check under the singleflight lock — another caller may have
	// completed the download while this one waited.
	if info, err := os.Stat(local); err == nil && info.Size() > 0 {
		return nil
	}

	// A unique temp name per transfer: even a transfer that outlives the
	// singleflight window can only ever touch its own file, never the one
	// visible at the cache key.
	tmpF, err := os.CreateTemp(b.cacheDir, filename+".partial-*")
	if err != nil {
		return fmt.Errorf("backend: create temp for %q: %w", filename, err)
	}
	tmp := tmpF.Name()
	tmpF.Close()

	remote := b.locator + "/" + filename

	_, err = b.runner.Run(ctx, copyTimeout, "rclone", "copyto", remote, tmp)
	if err != nil {
		os.Remove(tmp)
		b.logger.Warn("archive download failed", zap.String("archive", filename), zap.Error(err))
		return fmt.Errorf("backend: download %q: %w", filename, err)
	}

	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		os.Remove(tmp)
		return fmt.Errorf("backend: download %q produced no data", filename)
	}

	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("backend: finalize download %q: %w", filename, err)
	}
	return nil
}

// parseLsf parses rclone `lsf --format "sp"` output: one "size;path"
// record per line, directories suffixed with a slash. Malformed lines are
// skipped.
func parseLsf(out string) []RemoteFile {
	var files []RemoteFile
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sizeStr, path, ok := strings.Cut(line, ";")
		if !ok {
			continue
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			size = 0
		}
		path = strings.TrimSpace(path)
		rf := RemoteFile{Path: strings.TrimSuffix(path, "/"), Size: size, Dir: strings.HasSuffix(path, "/")}
		if rf.Dir {
			rf.Size = 0
		}
		files = append(files, rf)
	}
	return files
}
