package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/jvz-devx/usenetd/internal/config"
	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/downloader"
	"github.com/jvz-devx/usenetd/internal/engine"
	"github.com/jvz-devx/usenetd/internal/events"
	"github.com/jvz-devx/usenetd/internal/extraction"
	"github.com/jvz-devx/usenetd/internal/logger"
	"github.com/jvz-devx/usenetd/internal/nntp"
	"github.com/jvz-devx/usenetd/internal/parity"
	"github.com/jvz-devx/usenetd/internal/postprocess"
	"github.com/jvz-devx/usenetd/internal/queue"
	"github.com/jvz-devx/usenetd/internal/speedlimit"
	"github.com/jvz-devx/usenetd/internal/store"
)

const sampleNZB = `<?xml version="1.0"?>
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
<head><meta type="name">Some.Release.2024</meta></head>
<file poster="a@b" date="1700000000" subject="[1/1] - &quot;some.release.2024.mkv&quot; yEnc (1/1)">
<groups><group>alt.binaries.test</group></groups>
<segments><segment bytes="100" number="1">seg1@news</segment></segments>
</file>
</nzb>`

func newTestServer(t *testing.T) (*Server, *store.PersistentStore) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewPersistentStore(filepath.Join(dir, "usenetd.db"))
	if err != nil {
		t.Fatalf("NewPersistentStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	lg, err := logger.New(filepath.Join(dir, "usenetd.log"), logger.LevelInfo, false)
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	cfg := &config.Config{
		Servers:  []config.ServerConfig{{ID: "a", Host: "news.example.com", Port: 563, MaxConnection: 1}},
		Download: config.DownloadConfig{TempDir: filepath.Join(dir, "temp"), OutDir: filepath.Join(dir, "out"), MaxConcurrentDownloads: 1},
	}

	nm := nntp.NewManager(cfg)
	limiter := speedlimit.New(0)
	q := queue.New()
	bus := events.NewBus()
	pp := postprocess.NewProcessor(parity.NewCLIPar2(""), extraction.NewManager("", "", "", nil, false, 0), bus, domain.CollisionRename, postprocess.CleanupOptions{})
	proc := engine.NewProcessor(cfg, st, nm, limiter, bus, q, pp, lg)
	fac := downloader.New(cfg, st, q, proc, limiter, bus, lg)

	return New(fac, st, bus, lg), st
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestListDownloadsEmpty(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/downloads", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d body %s", rec.Code, rec.Body.String())
	}

	var views []downloadView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no downloads, got %d", len(views))
	}
}

func TestAddDownloadThenGetDownload(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/downloads?name=Some.Release.2024", []byte(sampleNZB))
	if rec.Code != http.StatusCreated {
		t.Fatalf("got status %d body %s", rec.Code, rec.Body.String())
	}

	var created struct {
		ID domain.DownloadId `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected a non-zero id")
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/downloads/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d body %s", rec.Code, rec.Body.String())
	}
	var view downloadView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.Name != "Some.Release.2024" {
		t.Fatalf("got %+v", view)
	}
}

func TestAddDownloadRejectsMalformedNZB(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/downloads", []byte("not an nzb"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestGetDownloadNotFoundReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/downloads/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestGetDownloadRejectsNonNumericID(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/downloads/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPauseThenResumeRoundTrip(t *testing.T) {
	s, st := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/downloads?name=Some.Release.2024", []byte(sampleNZB))
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodPost, "/api/v1/downloads/1/pause", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("pause: got %d body %s", rec.Code, rec.Body.String())
	}
	dl, err := st.GetDownload(context.Background(), domain.DownloadId(1))
	if err != nil {
		t.Fatalf("GetDownload: %v", err)
	}
	if dl.Status != domain.StatusPaused {
		t.Fatalf("expected Paused, got %s", dl.Status)
	}

	rec = doRequest(s, http.MethodPost, "/api/v1/downloads/1/resume", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("resume: got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestSetPriorityUpdatesStore(t *testing.T) {
	s, st := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/downloads?name=Some.Release.2024", []byte(sampleNZB))
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodPut, "/api/v1/downloads/1/priority", []byte(`{"priority": 7}`))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set priority: got %d body %s", rec.Code, rec.Body.String())
	}

	dl, err := st.GetDownload(context.Background(), domain.DownloadId(1))
	if err != nil {
		t.Fatalf("GetDownload: %v", err)
	}
	if dl.Priority != 7 {
		t.Fatalf("got priority %d", dl.Priority)
	}
}

func TestCancelRemovesDownload(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/downloads?name=Some.Release.2024", []byte(sampleNZB))
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodDelete, "/api/v1/downloads/1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/downloads/1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after cancel, got %d", rec.Code)
	}
}

func TestSetSpeedLimitAcceptsBody(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPut, "/api/v1/speed-limit", []byte(`{"limit_bps": 1000000}`))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestPauseAllAndResumeAllSucceedWithNoDownloads(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := doRequest(s, http.MethodPost, "/api/v1/queue/pause", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("pause all: got %d body %s", rec.Code, rec.Body.String())
	}
	if rec := doRequest(s, http.MethodPost, "/api/v1/queue/resume", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("resume all: got %d body %s", rec.Code, rec.Body.String())
	}
}
