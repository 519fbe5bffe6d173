package downloader

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jvz-devx/usenetd/internal/config"
	"github.com/jvz-devx/usenetd/internal/domain"
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

func newTestFacade(t *testing.T) (*Facade, *config.Config) {
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
		Servers: []config.ServerConfig{{ID: "a", Host: "news.example.com", Port: 563, MaxConnection: 1}},
		Download: config.DownloadConfig{
			TempDir: filepath.Join(dir, "temp"), OutDir: filepath.Join(dir, "out"),
			MaxConcurrentDownloads: 1,
		},
		DuplicateDetection: config.DuplicateConfig{Enabled: true, Methods: []string{"NzbHash"}, Action: "Block"},
		DiskSpace:          config.DiskSpaceConfig{Enabled: false},
	}

	nm := nntp.NewManager(cfg)
	limiter := speedlimit.New(0)
	q := queue.New()
	bus := events.NewBus()
	pp := postprocess.NewProcessor(parity.NewCLIPar2(""), extraction.NewManager("", "", "", nil, false, 0), bus, domain.CollisionRename, postprocess.CleanupOptions{})
	proc := engine.NewProcessor(cfg, st, nm, limiter, bus, q, pp, lg)

	fac := New(cfg, st, q, proc, limiter, bus, lg)
	return fac, cfg
}

func TestAddNZBContentQueuesDownload(t *testing.T) {
	fac, _ := newTestFacade(t)

	id, err := fac.AddNZBContent(context.Background(), []byte(sampleNZB), "Some.Release.2024", AddOptions{})
	if err != nil {
		t.Fatalf("AddNZBContent: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero download id")
	}

	if popped, ok := fac.queue.Pop(); !ok || popped != id {
		t.Fatalf("expected the new download to be pushed onto the queue, got %v ok=%v", popped, ok)
	}
}

func TestAddNZBContentRejectsAfterShutdown(t *testing.T) {
	fac, _ := newTestFacade(t)
	fac.acceptingNew.Store(false)

	_, err := fac.AddNZBContent(context.Background(), []byte(sampleNZB), "Some.Release.2024", AddOptions{})
	if !domain.IsKind(err, domain.ErrKindShuttingDown) {
		t.Fatalf("expected ShuttingDown, got %v", err)
	}
}

func TestAddNZBContentRejectsMalformedNZB(t *testing.T) {
	fac, _ := newTestFacade(t)

	_, err := fac.AddNZBContent(context.Background(), []byte("not xml at all"), "whatever", AddOptions{})
	if !domain.IsKind(err, domain.ErrKindInvalidNZB) {
		t.Fatalf("expected InvalidNZB, got %v", err)
	}
}

func TestAddNZBContentBlocksDuplicateByHash(t *testing.T) {
	fac, _ := newTestFacade(t)
	ctx := context.Background()

	if _, err := fac.AddNZBContent(ctx, []byte(sampleNZB), "Some.Release.2024", AddOptions{}); err != nil {
		t.Fatalf("first AddNZBContent: %v", err)
	}

	_, err := fac.AddNZBContent(ctx, []byte(sampleNZB), "Some.Release.2024", AddOptions{})
	if !domain.IsKind(err, domain.ErrKindDuplicate) {
		t.Fatalf("expected Duplicate on the second submission, got %v", err)
	}
}

func TestAddNZBContentAllowsDuplicateWhenActionIsAllow(t *testing.T) {
	fac, cfg := newTestFacade(t)
	cfg.DuplicateDetection.Action = "Allow"
	ctx := context.Background()

	if _, err := fac.AddNZBContent(ctx, []byte(sampleNZB), "Some.Release.2024", AddOptions{}); err != nil {
		t.Fatalf("first AddNZBContent: %v", err)
	}
	if _, err := fac.AddNZBContent(ctx, []byte(sampleNZB), "Some.Release.2024", AddOptions{}); err != nil {
		t.Fatalf("expected the duplicate to be allowed through, got %v", err)
	}
}

func TestPauseQueuedDownloadRemovesFromQueue(t *testing.T) {
	fac, _ := newTestFacade(t)
	ctx := context.Background()

	id, err := fac.AddNZBContent(ctx, []byte(sampleNZB), "Some.Release.2024", AddOptions{})
	if err != nil {
		t.Fatalf("AddNZBContent: %v", err)
	}

	if err := fac.Pause(ctx, id); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if _, ok := fac.queue.Pop(); ok {
		t.Fatal("expected the paused download to be off the queue")
	}
	dl, err := fac.store.GetDownload(ctx, id)
	if err != nil {
		t.Fatalf("GetDownload: %v", err)
	}
	if dl.Status != domain.StatusPaused {
		t.Fatalf("expected Paused, got %s", dl.Status)
	}
}

func TestPauseRejectsAlreadyCompleteDownload(t *testing.T) {
	fac, _ := newTestFacade(t)
	ctx := context.Background()

	id, err := fac.AddNZBContent(ctx, []byte(sampleNZB), "Some.Release.2024", AddOptions{})
	if err != nil {
		t.Fatalf("AddNZBContent: %v", err)
	}
	if err := fac.store.UpdateStatus(ctx, id, domain.StatusComplete); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if err := fac.Pause(ctx, id); !domain.IsKind(err, domain.ErrKindAlreadyInState) {
		t.Fatalf("expected AlreadyInState, got %v", err)
	}
}

func TestResumeRequeuesPausedDownload(t *testing.T) {
	fac, _ := newTestFacade(t)
	ctx := context.Background()

	id, err := fac.AddNZBContent(ctx, []byte(sampleNZB), "Some.Release.2024", AddOptions{})
	if err != nil {
		t.Fatalf("AddNZBContent: %v", err)
	}
	if err := fac.Pause(ctx, id); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if err := fac.Resume(ctx, id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if popped, ok := fac.queue.Pop(); !ok || popped != id {
		t.Fatalf("expected the download back on the queue, got %v ok=%v", popped, ok)
	}
}

func TestCancelRemovesDownloadEntirely(t *testing.T) {
	fac, _ := newTestFacade(t)
	ctx := context.Background()

	id, err := fac.AddNZBContent(ctx, []byte(sampleNZB), "Some.Release.2024", AddOptions{})
	if err != nil {
		t.Fatalf("AddNZBContent: %v", err)
	}

	if err := fac.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := fac.store.GetDownload(ctx, id); !domain.IsKind(err, domain.ErrKindNotFound) {
		t.Fatalf("expected NotFound after cancel, got %v", err)
	}
}

func TestSetPriorityUpdatesStoreAndQueue(t *testing.T) {
	fac, _ := newTestFacade(t)
	ctx := context.Background()

	id, err := fac.AddNZBContent(ctx, []byte(sampleNZB), "Some.Release.2024", AddOptions{Priority: 1})
	if err != nil {
		t.Fatalf("AddNZBContent: %v", err)
	}

	if err := fac.SetPriority(ctx, id, 9); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}

	dl, err := fac.store.GetDownload(ctx, id)
	if err != nil {
		t.Fatalf("GetDownload: %v", err)
	}
	if dl.Priority != 9 {
		t.Fatalf("got priority %d", dl.Priority)
	}
}

func TestSetSpeedLimitUpdatesLimiter(t *testing.T) {
	fac, _ := newTestFacade(t)
	fac.SetSpeedLimit(5000)
	if fac.limiter.CurrentLimit() != 5000 {
		t.Fatalf("got %d", fac.limiter.CurrentLimit())
	}
}

func TestShutdownStopsAcceptingNewDownloads(t *testing.T) {
	fac, _ := newTestFacade(t)

	if err := fac.Shutdown(context.Background(), 500*time.Millisecond); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_, err := fac.AddNZBContent(context.Background(), []byte(sampleNZB), "Some.Release.2024", AddOptions{})
	if !domain.IsKind(err, domain.ErrKindShuttingDown) {
		t.Fatalf("expected ShuttingDown after Shutdown, got %v", err)
	}
}
