// Package engine is the Queue Processor and Download Task: the pop-permit-
// spawn loop and the per-download pipelined fetch pipeline, generalized
// from the teacher's engine.QueueManager/Downloader (internal/engine/
// manager.go, worker.go, downloader.go) from a linear-scan slice of
// single-segment jobs into a heap-backed queue of pipelined, multi-server
// batch fetches.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jvz-devx/usenetd/internal/config"
	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/events"
	"github.com/jvz-devx/usenetd/internal/logger"
	"github.com/jvz-devx/usenetd/internal/nntp"
	"github.com/jvz-devx/usenetd/internal/postprocess"
	"github.com/jvz-devx/usenetd/internal/queue"
	"github.com/jvz-devx/usenetd/internal/speedlimit"
	"github.com/jvz-devx/usenetd/internal/store"
)

// Processor is the Queue Processor (spec.md §4.4.1): a single long-running
// loop that pops the next eligible download, acquires a permit from a
// semaphore sized to max_concurrent_downloads, and spawns a Download Task
// that releases the permit on finish.
type Processor struct {
	cfg      *config.Config
	store    *store.PersistentStore
	nntp     *nntp.Manager
	limiter  *speedlimit.Limiter
	bus      *events.Bus
	queue    *queue.Queue
	postproc *postprocess.Processor
	logger   *logger.Logger

	directUnpackFactory DirectUnpackFactory

	sem chan struct{}

	mu     sync.Mutex
	active map[domain.DownloadId]context.CancelFunc
}

func NewProcessor(
	cfg *config.Config,
	st *store.PersistentStore,
	nm *nntp.Manager,
	limiter *speedlimit.Limiter,
	bus *events.Bus,
	q *queue.Queue,
	pp *postprocess.Processor,
	lg *logger.Logger,
) *Processor {
	maxConcurrent := cfg.Download.MaxConcurrentDownloads
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Processor{
		cfg: cfg, store: st, nntp: nm, limiter: limiter, bus: bus, queue: q, postproc: pp, logger: lg,
		sem:    make(chan struct{}, maxConcurrent),
		active: make(map[domain.DownloadId]context.CancelFunc),
	}
}

// SetDirectUnpackFactory wires the DirectUnpack Coordinator in after the
// caller constructs it. Kept as a setter rather than a constructor
// argument so internal/directunpack can depend on this package's
// DirectUnpackRunner interface without engine needing to import
// internal/directunpack back.
func (p *Processor) SetDirectUnpackFactory(f DirectUnpackFactory) {
	p.directUnpackFactory = f
}

// Restore loads every incomplete download at startup, re-queuing Queued
// records as-is and resolving Downloading records per spec.md §4.4.2's
// resume semantics: requeue if any article is still Pending, otherwise
// promote straight to Processing. Processing records (interrupted
// mid-post-process) are returned for the caller to resume post-processing.
func (p *Processor) Restore(ctx context.Context) ([]*domain.Download, error) {
	downloads, err := p.store.GetIncompleteDownloads(ctx)
	if err != nil {
		return nil, fmt.Errorf("load incomplete downloads: %w", err)
	}

	var forPostProcess []*domain.Download
	for _, d := range downloads {
		switch d.Status {
		case domain.StatusQueued:
			p.queue.Push(d.ID, d.Priority, d.CreatedAt.UnixNano())

		case domain.StatusDownloading:
			pending, err := p.store.GetPendingArticles(ctx, d.ID, p.cfg.DirectUnpack.DirectRename)
			if err != nil {
				p.logger.Error("restore: load pending articles for download %d: %v", d.ID, err)
				continue
			}
			if len(pending) > 0 {
				if err := p.store.UpdateStatus(ctx, d.ID, domain.StatusQueued); err != nil {
					p.logger.Error("restore: requeue download %d: %v", d.ID, err)
				}
				p.queue.Push(d.ID, d.Priority, d.CreatedAt.UnixNano())
			} else {
				if err := p.store.UpdateStatus(ctx, d.ID, domain.StatusProcessing); err != nil {
					p.logger.Error("restore: promote download %d to processing: %v", d.ID, err)
				}
				forPostProcess = append(forPostProcess, d)
			}

		case domain.StatusProcessing:
			forPostProcess = append(forPostProcess, d)
		}
	}
	return forPostProcess, nil
}

// Run is the Queue Processor loop. It blocks until ctx is canceled.
func (p *Processor) Run(ctx context.Context) {
	for {
		id, ok := p.queue.Pop()
		if !ok {
			select {
			case <-p.queue.Wake():
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			p.requeue(context.Background(), id)
			return
		}

		taskCtx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.active[id] = cancel
		p.mu.Unlock()

		go func(id domain.DownloadId, cancel context.CancelFunc) {
			defer func() { <-p.sem }()
			p.runDownload(taskCtx, id)
			p.mu.Lock()
			delete(p.active, id)
			p.mu.Unlock()
			cancel()
		}(id, cancel)
	}
}

func (p *Processor) requeue(ctx context.Context, id domain.DownloadId) {
	d, err := p.store.GetDownload(ctx, id)
	if err != nil {
		return
	}
	p.queue.Push(id, d.Priority, d.CreatedAt.UnixNano())
}

// Active reports whether a download currently holds a running task (used
// by the facade's pause/cancel/shutdown control operations).
func (p *Processor) Active(id domain.DownloadId) (context.CancelFunc, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.active[id]
	return cancel, ok
}

// ActiveCount reports the number of currently-running download tasks, used
// by shutdown to poll until the active set drains.
func (p *Processor) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Processor) runDownload(ctx context.Context, id domain.DownloadId) {
	dl, err := p.store.GetDownload(ctx, id)
	if err != nil {
		return // record gone (e.g. cancelled between pop and permit); nothing to clean up
	}

	p.bus.Publish(events.Event{Kind: events.KindDownloadStarted, DownloadID: id})

	tempDir := filepath.Join(p.cfg.Download.TempDir, fmt.Sprintf("download_%d", int64(id)))
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		p.failDownload(ctx, dl, fmt.Errorf("create temp dir: %w", err))
		return
	}

	task := &downloadTask{p: p, dl: dl, tempDir: tempDir}
	task.run(ctx)
}

func (p *Processor) failDownload(ctx context.Context, dl *domain.Download, err error) {
	msg := err.Error()
	if uerr := p.store.SetError(ctx, dl.ID, msg); uerr != nil {
		p.logger.Error("set error for download %d: %v", dl.ID, uerr)
	}
	p.bus.Publish(events.Event{Kind: events.KindFailed, DownloadID: dl.ID, Data: map[string]any{
		"stage": "download", "error": msg, "files_kept": true,
	}})
}

// finishDownloading transitions a download whose fetch phase is complete
// (Phase 7 success, or Phase 2's empty-work short-circuit) to Processing
// and runs the post-processing pipeline.
func (p *Processor) finishDownloading(ctx context.Context, dl *domain.Download) {
	if err := p.store.UpdateStatus(ctx, dl.ID, domain.StatusProcessing); err != nil {
		p.logger.Error("transition download %d to processing: %v", dl.ID, err)
	}
	p.runPostProcess(ctx, dl)
}

// runPostProcess invokes the Verify/Repair/Extract/Move/Cleanup pipeline
// and resolves the download's final state from its outcome — this is also
// the re-entry point the facade's reprocess/reextract operations use.
func (p *Processor) runPostProcess(ctx context.Context, dl *domain.Download) {
	cachedPassword, _, _ := p.store.GetCachedPassword(ctx, dl.NZBHash)

	tempDir := filepath.Join(p.cfg.Download.TempDir, fmt.Sprintf("download_%d", int64(dl.ID)))
	destDir := dl.Destination
	if destDir == "" {
		destDir = p.cfg.Download.OutDir
	}

	usedPassword, err := p.postproc.Run(ctx, dl, tempDir, destDir, cachedPassword)
	if err != nil {
		if serr := p.store.SetError(ctx, dl.ID, err.Error()); serr != nil {
			p.logger.Error("set error for download %d: %v", dl.ID, serr)
		}
		stage := "post-process"
		if de, ok := err.(*domain.Error); ok {
			stage = string(de.Kind)
		}
		p.bus.Publish(events.Event{Kind: events.KindFailed, DownloadID: dl.ID, Data: map[string]any{
			"stage": stage, "error": err.Error(), "files_kept": true,
		}})
		return
	}

	if usedPassword != "" && usedPassword != cachedPassword {
		if serr := p.store.SaveCachedPassword(ctx, dl.NZBHash, usedPassword); serr != nil {
			p.logger.Error("cache password for download %d: %v", dl.ID, serr)
		}
	}

	if err := p.store.SetCompleted(ctx, dl.ID, time.Now()); err != nil {
		p.logger.Error("set completed for download %d: %v", dl.ID, err)
	}
	p.bus.Publish(events.Event{Kind: events.KindComplete, DownloadID: dl.ID, Data: destDir})
}

// Reprocess re-runs post-processing from the start (Verify onward) for a
// download whose temp directory is still present — spec.md §4.7's
// `reprocess` control operation.
func (p *Processor) Reprocess(ctx context.Context, id domain.DownloadId) error {
	dl, err := p.store.GetDownload(ctx, id)
	if err != nil {
		return err
	}
	tempDir := filepath.Join(p.cfg.Download.TempDir, fmt.Sprintf("download_%d", int64(id)))
	if _, statErr := os.Stat(tempDir); statErr != nil {
		return domain.NewError(domain.ErrKindFilesNotFound, "temp directory for download %d is gone", id)
	}
	if err := p.store.UpdateStatus(ctx, id, domain.StatusProcessing); err != nil {
		return err
	}
	go p.runPostProcess(context.Background(), dl)
	return nil
}
