// Package browse synthesizes one level of a virtual directory tree from a
// flat archive entry stream, or enumerates a real mirror directory, under a
// fixed per-listing entry cap.
package browse

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/great-horn/backup/internal/archive"
	"github.com/great-horn/backup/internal/backend"
)

// MaxEntries caps every listing. Entry streams are unbounded and
// interactive browsing does not need more per level; there is no pagination
// cursor, so a directory with more direct children is listed partially.
const MaxEntries = 500

// EntryKind is the type of a DirectoryEntry.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// DirectoryEntry is one node of a virtual directory level.
type DirectoryEntry struct {
	// Name is the node's base name, without any path or trailing slash.
	Name string `json:"name"`

	Kind EntryKind `json:"type"`

	// Size is the file size in bytes; zero for directories.
	Size int64 `json:"size"`

	// VirtualPath is the prefix-relative path of the node inside the
	// archive or mirror. Directory paths carry a trailing slash so the
	// client can feed them straight back as the next browse prefix.
	VirtualPath string `json:"path"`
}

// EntrySource is the part of archive.Reader the projector consumes.
type EntrySource interface {
	Next() (archive.Entry, error)
}

// Project consumes src and returns the single directory level addressed by
// prefix ("" for the archive root): files directly at that level, plus one
// synthesized directory node per unique first path segment below it.
//
// The stream is read only as far as needed — projection stops as soon as
// MaxEntries nodes have been emitted.
func Project(src EntrySource, prefix string) ([]DirectoryEntry, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var entries []DirectoryEntry
	seenDirs := make(map[string]struct{})

	for {
		if len(entries) >= MaxEntries {
			break
		}

		e, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		name := e.Name
		if e.Dir && !strings.HasSuffix(name, "/") {
			name += "/"
		}

		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}

		rel := name[len(prefix):]
		if rel == "" || rel == "/" {
			continue
		}

		segments := strings.Split(strings.TrimSuffix(rel, "/"), "/")
		switch {
		case len(segments) == 1 && !e.Dir:
			entries = append(entries, DirectoryEntry{
				Name:        segments[0],
				Kind:        KindFile,
				Size:        e.Size,
				VirtualPath: name,
			})

		case len(segments) > 1 || e.Dir:
			dir := segments[0]
			if _, seen := seenDirs[dir]; !seen {
				seenDirs[dir] = struct{}{}
				entries = append(entries, DirectoryEntry{
					Name:        dir,
					Kind:        KindDirectory,
					VirtualPath: prefix + dir + "/",
				})
			}
		}
	}

	return entries, nil
}

// ListDir enumerates one level of a real directory tree for mirror-mode
// jobs. sub is the browse path relative to root; the joined path must stay
// under root. Directories sort before files, each group by name.
func ListDir(root, sub string) ([]DirectoryEntry, error) {
	path := filepath.Join(root, sub)
	if !backend.PathWithin(path, root) {
		return nil, ErrPathEscapes
	}

	dirents, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("browse: read dir %q: %w", sub, err)
	}

	sort.Slice(dirents, func(i, j int) bool {
		if dirents[i].IsDir() != dirents[j].IsDir() {
			return dirents[i].IsDir()
		}
		return dirents[i].Name() < dirents[j].Name()
	})

	var entries []DirectoryEntry
	for _, de := range dirents {
		if len(entries) >= MaxEntries {
			break
		}
		entry := DirectoryEntry{Name: de.Name()}
		if de.IsDir() {
			entry.Kind = KindDirectory
			entry.VirtualPath = joinVirtual(sub, de.Name()) + "/"
		} else {
			entry.Kind = KindFile
			entry.VirtualPath = joinVirtual(sub, de.Name())
			if info, err := de.Info(); err == nil {
				entry.Size = info.Size()
			}
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// FromRemote converts a remote one-level listing into directory entries,
// applying the same cap as the local paths.
func FromRemote(files []backend.RemoteFile, sub string) []DirectoryEntry {
	var entries []DirectoryEntry
	for _, rf := range files {
		if len(entries) >= MaxEntries {
			break
		}
		entry := DirectoryEntry{Name: rf.Path}
		if rf.Dir {
			entry.Kind = KindDirectory
			entry.VirtualPath = joinVirtual(sub, rf.Path) + "/"
		} else {
			entry.Kind = KindFile
			entry.Size = rf.Size
			entry.VirtualPath = joinVirtual(sub, rf.Path)
		}
		entries = append(entries, entry)
	}
	return entries
}

// joinVirtual joins browse path components with forward slashes, keeping
// virtual paths platform-independent.
func joinVirtual(sub, name string) string {
	sub = strings.Trim(sub, "/")
	if sub == "" {
		return name
	}
	return sub + "/" + name
}
