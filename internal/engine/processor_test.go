package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jvz-devx/usenetd/internal/config"
	"github.com/jvz-devx/usenetd/internal/domain"
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

func newTestProcessor(t *testing.T) (*Processor, *store.PersistentStore, *config.Config) {
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
	pp := postprocess.NewProcessor(parity.NewCLIPar2(""), extraction.NewManager("", "", "", nil, false, 0), events.NewBus(), domain.CollisionRename, postprocess.CleanupOptions{})

	proc := NewProcessor(cfg, st, nm, limiter, events.NewBus(), q, pp, lg)
	return proc, st, cfg
}

func TestRestoreRequeuesQueuedDownloads(t *testing.T) {
	proc, st, _ := newTestProcessor(t)
	ctx := context.Background()

	id, err := st.InsertDownload(ctx, &domain.Download{Name: "a", NZBHash: "h1", Status: domain.StatusQueued})
	if err != nil {
		t.Fatalf("InsertDownload: %v", err)
	}

	forPostProcess, err := proc.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(forPostProcess) != 0 {
		t.Fatalf("expected no downloads returned for post-process resume, got %d", len(forPostProcess))
	}
	if popped, ok := proc.queue.Pop(); !ok || popped != id {
		t.Fatalf("expected the queued download to be pushed onto the queue, got %v ok=%v", popped, ok)
	}
}

func TestRestorePromotesDownloadingWithNoPendingArticlesToProcessing(t *testing.T) {
	proc, st, _ := newTestProcessor(t)
	ctx := context.Background()

	id, err := st.InsertDownload(ctx, &domain.Download{Name: "a", NZBHash: "h1", Status: domain.StatusDownloading})
	if err != nil {
		t.Fatalf("InsertDownload: %v", err)
	}

	forPostProcess, err := proc.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(forPostProcess) != 1 || forPostProcess[0].ID != id {
		t.Fatalf("expected the download with no pending articles to be returned for post-process, got %+v", forPostProcess)
	}

	dl, err := st.GetDownload(ctx, id)
	if err != nil {
		t.Fatalf("GetDownload: %v", err)
	}
	if dl.Status != domain.StatusProcessing {
		t.Fatalf("expected status Processing, got %s", dl.Status)
	}
}

func TestRestoreRequeuesDownloadingWithPendingArticles(t *testing.T) {
	proc, st, _ := newTestProcessor(t)
	ctx := context.Background()

	id, err := st.InsertDownload(ctx, &domain.Download{Name: "a", NZBHash: "h1", Status: domain.StatusDownloading})
	if err != nil {
		t.Fatalf("InsertDownload: %v", err)
	}
	if err := st.InsertFilesBatch(ctx, id, []*domain.DownloadFile{{FileIndex: 0, FileName: "a.rar", TotalSegments: 1}}); err != nil {
		t.Fatalf("InsertFilesBatch: %v", err)
	}
	if err := st.InsertArticlesBatch(ctx, id, []*domain.Article{{FileIndex: 0, MessageID: "seg1@news", SegmentNumber: 1}}); err != nil {
		t.Fatalf("InsertArticlesBatch: %v", err)
	}

	forPostProcess, err := proc.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(forPostProcess) != 0 {
		t.Fatalf("expected no downloads returned for post-process (still has pending articles), got %d", len(forPostProcess))
	}

	dl, err := st.GetDownload(ctx, id)
	if err != nil {
		t.Fatalf("GetDownload: %v", err)
	}
	if dl.Status != domain.StatusQueued {
		t.Fatalf("expected status requeued to Queued, got %s", dl.Status)
	}
	if _, ok := proc.queue.Pop(); !ok {
		t.Fatal("expected the requeued download to be pushed onto the queue")
	}
}

func TestReprocessErrorsWhenTempDirIsGone(t *testing.T) {
	proc, st, _ := newTestProcessor(t)
	ctx := context.Background()

	id, err := st.InsertDownload(ctx, &domain.Download{Name: "a", NZBHash: "h1", Status: domain.StatusProcessing})
	if err != nil {
		t.Fatalf("InsertDownload: %v", err)
	}

	err = proc.Reprocess(ctx, id)
	if !domain.IsKind(err, domain.ErrKindFilesNotFound) {
		t.Fatalf("expected FilesNotFound, got %v", err)
	}
}

func TestActiveCountStartsAtZero(t *testing.T) {
	proc, _, _ := newTestProcessor(t)
	if proc.ActiveCount() != 0 {
		t.Fatalf("expected 0 active tasks on a fresh processor, got %d", proc.ActiveCount())
	}
	if _, ok := proc.Active(domain.DownloadId(1)); ok {
		t.Fatal("expected no active task for an unknown id")
	}
}
