package api

import (
	"archive/tar"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/backend"
	"github.com/great-horn/backup/internal/db"
	"github.com/great-horn/backup/internal/repositories"
	"github.com/great-horn/backup/internal/restore"
	"github.com/great-horn/backup/internal/search"
	"github.com/great-horn/backup/internal/websocket"
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

type noopRunner struct{}

func (noopRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) (string, error) {
	return "", nil
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
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte("x")); err != nil {
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

// newTestServer wires a router over the given jobs with all-local backends.
func newTestServer(t *testing.T, jobs *fakeJobs) *httptest.Server {
	t.Helper()

	logger := zap.NewNop()
	factory := &backend.Factory{
		Runner:   noopRunner{},
		CacheDir: t.TempDir(),
		Logger:   logger,
	}

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	router := NewRouter(RouterConfig{
		Jobs:     jobs,
		Backends: factory,
		Executor: restore.NewExecutor(jobs, factory, noopRunner{}, websocket.NewProgressSink(hub), logger),
		Search:   search.NewEngine(jobs, factory, logger),
		Hub:      hub,
		Logger:   logger,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp, body
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeJobs{})

	resp, body := get(t, srv, "/api/v1/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data := body["data"].(map[string]any)
	if data["status"] != "ok" {
		t.Errorf("health body = %v", body)
	}
}

func TestListBackups(t *testing.T) {
	destRoot := t.TempDir()
	writeArchive(t, filepath.Join(destRoot, "app_20240110_020000.tar.zst"), []string{"a.txt"})
	mirrorRoot := t.TempDir()

	jobs := &fakeJobs{jobs: []db.JobConfig{
		{
			JobName: "app", DisplayName: "App", DestPath: destRoot,
			Mode: db.ModeCompression, BackendType: db.BackendLocal, Enabled: true,
		},
		{
			JobName: "media", DisplayName: "Media", DestPath: mirrorRoot,
			Mode: db.ModeDirect, BackendType: db.BackendLocal, Enabled: true,
		},
		{
			JobName: "hidden", DestPath: destRoot,
			Mode: db.ModeCompression, BackendType: db.BackendLocal, Enabled: false,
		},
	}}
	srv := newTestServer(t, jobs)

	resp, body := get(t, srv, "/api/v1/restore/backups")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	data := body["data"].(map[string]any)
	list := data["jobs"].([]any)
	if len(list) != 2 {
		t.Fatalf("listed %d jobs, want 2 (disabled excluded): %v", len(list), list)
	}

	appJob := list[0].(map[string]any)
	backups := appJob["backups"].([]any)
	if len(backups) != 1 {
		t.Fatalf("app backups = %v", backups)
	}
	first := backups[0].(map[string]any)
	if first["filename"] != "app_20240110_020000.tar.zst" || first["date"] == "" {
		t.Errorf("backup entry = %v", first)
	}

	mediaJob := list[1].(map[string]any)
	mediaBackups := mediaJob["backups"].([]any)
	if len(mediaBackups) != 1 {
		t.Fatalf("media backups = %v", mediaBackups)
	}
	if mediaBackups[0].(map[string]any)["filename"] != "(direct mirror)" {
		t.Errorf("mirror placeholder = %v", mediaBackups[0])
	}
}

func TestBrowseArchive(t *testing.T) {
	destRoot := t.TempDir()
	writeArchive(t, filepath.Join(destRoot, "app_20240110_020000.tar.zst"), []string{
		"etc/config.yml",
		"data/blob.bin",
	})

	jobs := &fakeJobs{jobs: []db.JobConfig{{
		JobName: "app", DestPath: destRoot,
		Mode: db.ModeCompression, BackendType: db.BackendLocal, Enabled: true,
	}}}
	srv := newTestServer(t, jobs)

	resp, body := get(t, srv, "/api/v1/restore/browse/app?file=app_20240110_020000.tar.zst")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	entries := data["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %v", entries)
	}
	for _, raw := range entries {
		e := raw.(map[string]any)
		if e["type"] != "directory" {
			t.Errorf("root entry = %v, want synthesized directory", e)
		}
	}

	// file parameter is mandatory in archive mode.
	resp, body = get(t, srv, "/api/v1/restore/browse/app")
	if resp.StatusCode != http.StatusBadRequest || errorCode(t, body) != "bad_request" {
		t.Errorf("missing file param: status %d body %v", resp.StatusCode, body)
	}
}

func TestBrowseUnknownAndDisabledJob(t *testing.T) {
	jobs := &fakeJobs{jobs: []db.JobConfig{{
		JobName: "off", DestPath: t.TempDir(),
		Mode: db.ModeDirect, BackendType: db.BackendLocal, Enabled: false,
	}}}
	srv := newTestServer(t, jobs)

	for _, name := range []string{"ghost", "off"} {
		resp, body := get(t, srv, "/api/v1/restore/browse/"+name)
		if resp.StatusCode != http.StatusNotFound || errorCode(t, body) != "not_found" {
			t.Errorf("job %s: status %d body %v", name, resp.StatusCode, body)
		}
	}
}

func TestBrowseEscapeForbidden(t *testing.T) {
	jobs := &fakeJobs{jobs: []db.JobConfig{{
		JobName: "media", DestPath: t.TempDir(),
		Mode: db.ModeDirect, BackendType: db.BackendLocal, Enabled: true,
	}}}
	srv := newTestServer(t, jobs)

	resp, body := get(t, srv, "/api/v1/restore/browse/media?path=..%2F..%2Fetc")
	if resp.StatusCode != http.StatusForbidden || errorCode(t, body) != "forbidden" {
		t.Errorf("escape: status %d body %v", resp.StatusCode, body)
	}
}

func TestRunRestoreValidation(t *testing.T) {
	destRoot := t.TempDir()
	jobs := &fakeJobs{jobs: []db.JobConfig{
		{
			JobName: "app", SourcePath: "/source/app", DestPath: destRoot,
			Mode: db.ModeCompression, BackendType: db.BackendLocal, Enabled: true,
		},
		{
			JobName: "off", SourcePath: "/source/off", DestPath: destRoot,
			Mode: db.ModeCompression, BackendType: db.BackendLocal, Enabled: false,
		},
	}}
	srv := newTestServer(t, jobs)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"missing job_name", `{}`, http.StatusBadRequest, "bad_request"},
		{"unknown job", `{"job_name":"ghost"}`, http.StatusNotFound, "not_found"},
		{"disabled job", `{"job_name":"off"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"missing backup_file", `{"job_name":"app"}`, http.StatusBadRequest, "bad_request"},
		{"forbidden target", `{"job_name":"app","backup_file":"x.tar.zst","target_path":"/etc"}`, http.StatusForbidden, "forbidden"},
		{"unknown field", `{"job_name":"app","bogus":1}`, http.StatusBadRequest, "bad_request"},
	}

	for _, tt := range tests {
		resp, body := post(t, srv, "/api/v1/restore/run", tt.body)
		if resp.StatusCode != tt.status || errorCode(t, body) != tt.code {
			t.Errorf("%s: status %d code %q, want %d %q", tt.name, resp.StatusCode, errorCode(t, body), tt.status, tt.code)
		}
	}
}

func TestRunRestoreAccepted(t *testing.T) {
	destRoot := t.TempDir()
	writeArchive(t, filepath.Join(destRoot, "app_20240110_020000.tar.zst"), []string{"a.txt"})

	if err := os.MkdirAll("/tmp/restore", 0o755); err != nil {
		t.Fatal(err)
	}
	target, err := os.MkdirTemp("/tmp/restore", "api-test-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(target) })

	jobs := &fakeJobs{jobs: []db.JobConfig{{
		JobName: "app", SourcePath: "/source/app", DestPath: destRoot,
		Mode: db.ModeCompression, BackendType: db.BackendLocal, Enabled: true,
	}}}
	srv := newTestServer(t, jobs)

	resp, body := post(t, srv, "/api/v1/restore/run",
		`{"job_name":"app","backup_file":"app_20240110_020000.tar.zst","target_path":"`+target+`"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d: %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	if data["status"] != "started" || data["job_name"] != "app" || data["target_path"] != target {
		t.Errorf("ack = %v", data)
	}
}

func TestSearchEndpoint(t *testing.T) {
	destRoot := t.TempDir()
	writeArchive(t, filepath.Join(destRoot, "app_20240110_020000.tar.zst"), []string{"etc/config.yml"})

	jobs := &fakeJobs{jobs: []db.JobConfig{{
		JobName: "app", DisplayName: "App", DestPath: destRoot,
		Mode: db.ModeCompression, BackendType: db.BackendLocal, Enabled: true,
	}}}
	srv := newTestServer(t, jobs)

	resp, body := get(t, srv, "/api/v1/restore/search?q=ab")
	if resp.StatusCode != http.StatusBadRequest || errorCode(t, body) != "bad_request" {
		t.Errorf("short query: status %d body %v", resp.StatusCode, body)
	}

	resp, body = get(t, srv, "/api/v1/restore/search?q=config")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	if data["total"].(float64) != 1 || data["query"] != "config" {
		t.Errorf("search body = %v", data)
	}
	results := data["results"].([]any)
	match := results[0].(map[string]any)
	if match["file_path"] != "etc/config.yml" || match["job_name"] != "app" {
		t.Errorf("match = %v", match)
	}

	// No matches still returns an empty array, not null.
	resp, body = get(t, srv, "/api/v1/restore/search?q=zzz-nothing")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data = body["data"].(map[string]any)
	if _, ok := data["results"].([]any); !ok {
		t.Errorf("empty results = %v, want []", data["results"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeJobs{})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}
