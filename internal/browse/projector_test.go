package browse

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/great-horn/backup/internal/archive"
	"github.com/great-horn/backup/internal/backend"
)

// sliceSource feeds canned entries to the projector.
type sliceSource struct {
	entries []archive.Entry
	pos     int
}

func (s *sliceSource) Next() (archive.Entry, error) {
	if s.pos >= len(s.entries) {
		return archive.Entry{}, io.EOF
	}
	e := s.entries[s.pos]
	s.pos++
	return e, nil
}

func names(entries []DirectoryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Kind) + ":" + e.Name
	}
	return out
}

func TestProjectRootLevel(t *testing.T) {
	src := &sliceSource{entries: []archive.Entry{
		{Name: "etc/config.yml", Size: 120},
		{Name: "etc/secrets/key.pem", Size: 3000},
		{Name: "data/file.bin", Size: 4096},
	}}

	got, err := Project(src, "")
	if err != nil {
		t.Fatalf("project: %v", err)
	}

	// Nothing sits directly at the root, so the level is two synthesized
	// directories and no files.
	want := []string{"directory:etc", "directory:data"}
	if fmt.Sprint(names(got)) != fmt.Sprint(want) {
		t.Fatalf("root level = %v, want %v", names(got), want)
	}
	for _, e := range got {
		if e.Size != 0 {
			t.Errorf("directory %s has size %d, want 0", e.Name, e.Size)
		}
		if e.VirtualPath != e.Name+"/" {
			t.Errorf("directory %s path = %q, want trailing slash", e.Name, e.VirtualPath)
		}
	}
}

func TestProjectWithPrefix(t *testing.T) {
	entries := []archive.Entry{
		{Name: "etc/config.yml", Size: 120},
		{Name: "etc/secrets/key.pem", Size: 3000},
		{Name: "etc/secrets/ca.pem", Size: 1500},
		{Name: "data/file.bin", Size: 4096},
	}

	// Prefix with and without trailing slash must project the same level.
	for _, prefix := range []string{"etc", "etc/"} {
		src := &sliceSource{entries: entries}
		got, err := Project(src, prefix)
		if err != nil {
			t.Fatalf("project %q: %v", prefix, err)
		}
		want := []string{"file:config.yml", "directory:secrets"}
		if fmt.Sprint(names(got)) != fmt.Sprint(want) {
			t.Errorf("level for %q = %v, want %v", prefix, names(got), want)
		}
		if got[0].Size != 120 {
			t.Errorf("config.yml size = %d, want 120", got[0].Size)
		}
		if got[1].VirtualPath != "etc/secrets/" {
			t.Errorf("secrets path = %q, want etc/secrets/", got[1].VirtualPath)
		}
	}
}

func TestProjectExplicitDirectoryEntries(t *testing.T) {
	src := &sliceSource{entries: []archive.Entry{
		{Name: "logs/", Dir: true},
		{Name: "logs/app.log", Size: 10},
		{Name: "logs", Dir: true}, // no trailing slash variant
	}}

	got, err := Project(src, "")
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(got) != 1 || got[0].Kind != KindDirectory || got[0].Name != "logs" {
		t.Fatalf("got %v, want a single logs directory", names(got))
	}
}

func TestProjectCap(t *testing.T) {
	var entries []archive.Entry
	for i := 0; i < MaxEntries+200; i++ {
		entries = append(entries, archive.Entry{Name: fmt.Sprintf("file%04d.txt", i), Size: 1})
	}
	src := &sliceSource{entries: entries}

	got, err := Project(src, "")
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(got) != MaxEntries {
		t.Errorf("capped listing has %d entries, want %d", len(got), MaxEntries)
	}
	// The stream must not be drained past the cap.
	if src.pos > MaxEntries {
		t.Errorf("projector consumed %d entries, want at most %d", src.pos, MaxEntries)
	}
}

func TestListDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub", "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ListDir(root, "")
	if err != nil {
		t.Fatalf("list dir: %v", err)
	}
	want := []string{"directory:sub", "file:a.txt", "file:b.txt"}
	if fmt.Sprint(names(got)) != fmt.Sprint(want) {
		t.Fatalf("root listing = %v, want %v", names(got), want)
	}
	if got[0].VirtualPath != "sub/" {
		t.Errorf("sub path = %q, want sub/", got[0].VirtualPath)
	}
	if got[2].Size != 5 {
		t.Errorf("b.txt size = %d, want 5", got[2].Size)
	}

	nested, err := ListDir(root, "sub")
	if err != nil {
		t.Fatalf("list sub: %v", err)
	}
	if len(nested) != 1 || nested[0].VirtualPath != "sub/nested/" {
		t.Errorf("sub listing = %v", nested)
	}
}

func TestListDirEscape(t *testing.T) {
	root := t.TempDir()
	if _, err := ListDir(root, "../.."); !errors.Is(err, ErrPathEscapes) {
		t.Fatalf("escape = %v, want ErrPathEscapes", err)
	}
}

func TestListDirMissing(t *testing.T) {
	root := t.TempDir()
	if _, err := ListDir(root, "does/not/exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing = %v, want ErrNotFound", err)
	}
}

func TestFromRemote(t *testing.T) {
	files := []backend.RemoteFile{
		{Path: "photos", Dir: true},
		{Path: "index.html", Size: 512},
	}

	got := FromRemote(files, "site")
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Kind != KindDirectory || got[0].VirtualPath != "site/photos/" {
		t.Errorf("dir entry = %+v", got[0])
	}
	if got[1].Kind != KindFile || got[1].VirtualPath != "site/index.html" || got[1].Size != 512 {
		t.Errorf("file entry = %+v", got[1])
	}
}
