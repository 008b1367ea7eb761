// Package archive reads .tar.zst backup archives as a forward-only stream
// of entries. Archives are decompressed on the fly — nothing is ever
// buffered beyond the decoder window, so arbitrarily large archives can be
// browsed with constant memory.
//
// The stream is single-pass and non-seekable. Callers that only need a few
// entries may stop calling Next early; Close releases the decoder and the
// underlying file regardless of how much of the stream was consumed.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Ext is the filename extension of backup archives produced by
// compression-mode jobs.
const Ext = ".tar.zst"

// Entry describes a single member of an archive stream.
type Entry struct {
	// Name is the slash-separated path of the member inside the archive.
	// Directory entries may or may not carry a trailing slash depending on
	// the producing tool — callers normalize as needed.
	Name string

	// Dir reports whether the member is a directory.
	Dir bool

	// Regular reports whether the member is a plain file. Symlinks, hard
	// links and device nodes carry false; extraction skips them.
	Regular bool

	// Size is the member's uncompressed size in bytes. Zero for directories.
	Size int64

	// Mode holds the member's permission bits as recorded in the archive.
	Mode fs.FileMode
}

// Reader streams the entries of one .tar.zst archive. Create with Open and
// always Close, even after an early break or a read error.
type Reader struct {
	file    *os.File
	decoder *zstd.Decoder
	tr      *tar.Reader
}

// Open opens the archive at path for streaming. The returned Reader owns
// the file handle and the zstd decoder until Close is called.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("archive: zstd init for %s: %w", path, err)
	}

	return &Reader{
		file:    f,
		decoder: dec,
		tr:      tar.NewReader(dec),
	}, nil
}

// Next advances to the next entry in the stream. It returns io.EOF after
// the last entry. A corrupt or truncated archive surfaces as a non-EOF
// error; the Reader must still be Closed.
func (r *Reader) Next() (Entry, error) {
	hdr, err := r.tr.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("archive: read entry: %w", err)
	}

	e := Entry{
		Name:    hdr.Name,
		Dir:     hdr.Typeflag == tar.TypeDir,
		Regular: hdr.Typeflag == tar.TypeReg,
		Mode:    hdr.FileInfo().Mode().Perm(),
	}
	if !e.Dir {
		e.Size = hdr.Size
	}
	return e, nil
}

// Body returns the reader for the current entry's content. Valid until the
// next call to Next.
func (r *Reader) Body() io.Reader {
	return r.tr
}

// Close releases the zstd decoder and the underlying file handle.
// Safe to call exactly once on every exit path.
func (r *Reader) Close() error {
	r.decoder.Close()
	return r.file.Close()
}

// ParseTimestamp extracts the timestamp suffix from an archive filename of
// the form <name>_YYYYMMDD_HHMMSS.tar.zst. The second return value is false
// when the filename does not follow the pattern — callers fall back to file
// mtime or leave the field empty.
func ParseTimestamp(filename string) (time.Time, bool) {
	base := strings.TrimSuffix(filename, Ext)
	if base == filename {
		return time.Time{}, false
	}
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return time.Time{}, false
	}
	suffix := parts[len(parts)-2] + "_" + parts[len(parts)-1]
	ts, err := time.Parse("20060102_150405", suffix)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
