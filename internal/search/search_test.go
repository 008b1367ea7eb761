package search

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/backend"
	"github.com/great-horn/backup/internal/db"
	"github.com/great-horn/backup/internal/repositories"
)

// fakeJobs serves a fixed, ordered job list.
type fakeJobs struct {
	jobs []db.JobConfig
}

func (f *fakeJobs) GetByName(_ context.Context, jobName string) (*db.JobConfig, error) {
	for i := range f.jobs {
		if f.jobs[i].JobName == jobName {
			return &f.jobs[i], nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeJobs) ListEnabled(_ context.Context) ([]db.JobConfig, error) {
	var out []db.JobConfig
	for _, cfg := range f.jobs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (f *fakeJobs) List(_ context.Context) ([]db.JobConfig, error) {
	return f.jobs, nil
}

func (f *fakeJobs) Upsert(_ context.Context, cfg *db.JobConfig) error {
	f.jobs = append(f.jobs, *cfg)
	return nil
}

func writeArchive(t *testing.T, path string, names []string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(enc)
	for _, name := range names {
		body := []byte("x")
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func newTestEngine(jobs *fakeJobs, t *testing.T) *Engine {
	factory := &backend.Factory{CacheDir: t.TempDir(), Logger: zap.NewNop()}
	return NewEngine(jobs, factory, zap.NewNop())
}

func archiveJob(name, destRoot string) db.JobConfig {
	return db.JobConfig{
		JobName:     name,
		DisplayName: name,
		SourcePath:  "/source/" + name,
		DestPath:    destRoot,
		Mode:        db.ModeCompression,
		BackendType: db.BackendLocal,
		Enabled:     true,
	}
}

func mirrorJob(name, destRoot string) db.JobConfig {
	cfg := archiveJob(name, destRoot)
	cfg.Mode = db.ModeDirect
	return cfg
}

func TestSearchRejectsShortQuery(t *testing.T) {
	e := newTestEngine(&fakeJobs{}, t)

	// The minimum counts characters, not bytes: a two-rune multibyte
	// query is still too short.
	for _, q := range []string{"", "ab", "  ab  ", "日本"} {
		if _, err := e.Search(context.Background(), q); !errors.Is(err, ErrQueryTooShort) {
			t.Errorf("query %q: err = %v, want ErrQueryTooShort", q, err)
		}
	}

	for _, q := range []string{"abc", "日本語"} {
		if _, err := e.Search(context.Background(), q); err != nil {
			t.Errorf("query %q rejected: %v", q, err)
		}
	}
}

func TestSearchArchiveEntries(t *testing.T) {
	destRoot := t.TempDir()
	writeArchive(t, filepath.Join(destRoot, "app_20240110_020000.tar.zst"), []string{
		"etc/Config.yml",
		"data/blob.bin",
	})

	jobs := &fakeJobs{jobs: []db.JobConfig{archiveJob("app", destRoot)}}
	e := newTestEngine(jobs, t)

	got, err := e.Search(context.Background(), "CONFIG")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1: %+v", len(got), got)
	}
	r := got[0]
	if r.JobName != "app" || r.Mode != db.ModeCompression {
		t.Errorf("result = %+v", r)
	}
	if r.BackupFile != "app_20240110_020000.tar.zst" {
		t.Errorf("backup file = %s", r.BackupFile)
	}
	if r.FilePath != "etc/Config.yml" || r.Size != 1 {
		t.Errorf("match = %s (%d bytes)", r.FilePath, r.Size)
	}
}

func TestSearchScansRecentLocalArchivesOnly(t *testing.T) {
	destRoot := t.TempDir()
	// Five archives; only the three most recent are scanned. The match
	// lives in the two oldest, so it must not be found.
	for i, names := range [][]string{
		{"needle.txt"},
		{"needle.txt"},
		{"other.txt"},
		{"other.txt"},
		{"other.txt"},
	} {
		filename := fmt.Sprintf("app_2024010%d_020000.tar.zst", i+1)
		writeArchive(t, filepath.Join(destRoot, filename), names)
	}

	jobs := &fakeJobs{jobs: []db.JobConfig{archiveJob("app", destRoot)}}
	e := newTestEngine(jobs, t)

	got, err := e.Search(context.Background(), "needle")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("match found outside the scan window: %+v", got)
	}
}

func TestSearchMirrorBaseNameMatch(t *testing.T) {
	destRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(destRoot, "reports"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Base name matches; directory-name-only matches must not count.
	if err := os.WriteFile(filepath.Join(destRoot, "reports", "summary.pdf"), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(destRoot, "summary-dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(destRoot, "summary-dir", "data.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	jobs := &fakeJobs{jobs: []db.JobConfig{mirrorJob("media", destRoot)}}
	e := newTestEngine(jobs, t)

	got, err := e.Search(context.Background(), "summary")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1: %+v", len(got), got)
	}
	if got[0].FilePath != "reports/summary.pdf" || got[0].Size != 5 || got[0].BackupFile != "" {
		t.Errorf("result = %+v", got[0])
	}
}

func TestSearchMirrorPerJobCap(t *testing.T) {
	destRoot := t.TempDir()
	for i := 0; i < MaxMirrorResultsPerJob+5; i++ {
		name := fmt.Sprintf("match-%02d.log", i)
		if err := os.WriteFile(filepath.Join(destRoot, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	jobs := &fakeJobs{jobs: []db.JobConfig{mirrorJob("logs", destRoot)}}
	e := newTestEngine(jobs, t)

	got, err := e.Search(context.Background(), "match")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != MaxMirrorResultsPerJob {
		t.Errorf("got %d results, want per-job cap %d", len(got), MaxMirrorResultsPerJob)
	}
}

func TestSearchGlobalCap(t *testing.T) {
	destRoot := t.TempDir()
	names := make([]string, MaxResults+20)
	for i := range names {
		names[i] = fmt.Sprintf("bulk/match-%03d.dat", i)
	}
	writeArchive(t, filepath.Join(destRoot, "app_20240110_020000.tar.zst"), names)

	jobs := &fakeJobs{jobs: []db.JobConfig{
		archiveJob("app", destRoot),
		mirrorJob("untouched", filepath.Join(destRoot, "missing")),
	}}
	e := newTestEngine(jobs, t)

	got, err := e.Search(context.Background(), "match")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != MaxResults {
		t.Errorf("got %d results, want global cap %d", len(got), MaxResults)
	}
}

func TestSearchSkipsDisabledJobs(t *testing.T) {
	destRoot := t.TempDir()
	writeArchive(t, filepath.Join(destRoot, "app_20240110_020000.tar.zst"), []string{"findme.txt"})

	job := archiveJob("app", destRoot)
	job.Enabled = false
	jobs := &fakeJobs{jobs: []db.JobConfig{job}}
	e := newTestEngine(jobs, t)

	got, err := e.Search(context.Background(), "findme")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("disabled job contributed results: %+v", got)
	}
}
