package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/events"
)

// Pause stops a queued or downloading job from progressing further: an
// in-flight download has its task context cancelled (the task then stops
// after Phase 6 without changing the record's status), a merely-queued one
// is pulled off the heap directly. Either way the record is set to Paused;
// Restore does not requeue Paused records, only Resume does.
func (f *Facade) Pause(ctx context.Context, id domain.DownloadId) error {
	dl, err := f.store.GetDownload(ctx, id)
	if err != nil {
		return err
	}
	if dl.Status != domain.StatusQueued && dl.Status != domain.StatusDownloading {
		return domain.NewError(domain.ErrKindAlreadyInState, "download %d is %s", id, dl.Status)
	}

	if cancel, ok := f.proc.Active(id); ok {
		cancel()
	}
	f.queue.Remove(id)

	if err := f.store.UpdateStatus(ctx, id, domain.StatusPaused); err != nil {
		return err
	}
	f.bus.Publish(events.Event{Kind: events.KindPaused, DownloadID: id})
	return nil
}

// Resume requeues a paused download at its existing priority.
func (f *Facade) Resume(ctx context.Context, id domain.DownloadId) error {
	dl, err := f.store.GetDownload(ctx, id)
	if err != nil {
		return err
	}
	if dl.Status != domain.StatusPaused {
		return domain.NewError(domain.ErrKindAlreadyInState, "download %d is %s", id, dl.Status)
	}

	if err := f.store.UpdateStatus(ctx, id, domain.StatusQueued); err != nil {
		return err
	}
	f.bus.Publish(events.Event{Kind: events.KindResumed, DownloadID: id})
	f.queue.Push(id, dl.Priority, time.Now().UnixNano())
	return nil
}

// Cancel stops and permanently removes a download, temp files included.
func (f *Facade) Cancel(ctx context.Context, id domain.DownloadId) error {
	dl, err := f.store.GetDownload(ctx, id)
	if err != nil {
		return err
	}

	if cancel, ok := f.proc.Active(id); ok {
		cancel()
	}
	f.queue.Remove(id)

	if err := os.RemoveAll(f.tempDirFor(dl)); err != nil {
		f.logger.Error("remove temp dir for download %d: %v", id, err)
	}
	if err := f.store.DeleteDownload(ctx, id); err != nil {
		return err
	}
	f.bus.Publish(events.Event{Kind: events.KindRemoved, DownloadID: id})
	return nil
}

func (f *Facade) tempDirFor(dl *domain.Download) string {
	return filepath.Join(f.cfg.Download.TempDir, fmt.Sprintf("download_%d", int64(dl.ID)))
}

// SetPriority updates both the persisted priority and, if the download is
// still sitting in the queue, its position in the heap.
func (f *Facade) SetPriority(ctx context.Context, id domain.DownloadId, priority int) error {
	if err := f.store.UpdatePriority(ctx, id, priority); err != nil {
		return err
	}
	f.queue.SetPriority(id, priority)
	return nil
}

// Reprocess re-runs post-processing from the verify stage, delegating to
// the engine processor's own Reprocess (spec's reprocess/reextract control
// operation).
func (f *Facade) Reprocess(ctx context.Context, id domain.DownloadId) error {
	return f.proc.Reprocess(ctx, id)
}

// PauseAll pauses every currently queued or downloading job.
func (f *Facade) PauseAll(ctx context.Context) error {
	downloads, err := f.store.GetIncompleteDownloads(ctx)
	if err != nil {
		return err
	}
	for _, dl := range downloads {
		if dl.Status == domain.StatusQueued || dl.Status == domain.StatusDownloading {
			if err := f.Pause(ctx, dl.ID); err != nil {
				f.logger.Error("pause download %d: %v", dl.ID, err)
			}
		}
	}
	f.bus.Publish(events.Event{Kind: events.KindQueuePaused})
	return nil
}

// ResumeAll resumes every paused job.
func (f *Facade) ResumeAll(ctx context.Context) error {
	downloads, err := f.store.ListDownloads(ctx)
	if err != nil {
		return err
	}
	for _, dl := range downloads {
		if dl.Status == domain.StatusPaused {
			if err := f.Resume(ctx, dl.ID); err != nil {
				f.logger.Error("resume download %d: %v", dl.ID, err)
			}
		}
	}
	f.bus.Publish(events.Event{Kind: events.KindQueueResumed})
	return nil
}

// SetSpeedLimit changes the global token-bucket rate in bytes/sec; 0 means
// unlimited.
func (f *Facade) SetSpeedLimit(limitBps int64) {
	f.limiter.SetLimit(limitBps)
	f.bus.Publish(events.Event{Kind: events.KindSpeedLimitChanged, Data: limitBps})
}

// Shutdown stops accepting new downloads and waits up to timeout for active
// transfers to finish on their own; it does not cancel them and sets no
// record to Paused. It then calls SetCleanShutdown, which resets every
// Downloading/Processing record (still-running ones included) to Queued,
// so the next startup's Restore requeues them.
func (f *Facade) Shutdown(ctx context.Context, timeout time.Duration) error {
	f.acceptingNew.Store(false)

	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

waitLoop:
	for f.proc.ActiveCount() > 0 {
		select {
		case <-deadline:
			break waitLoop
		case <-ticker.C:
		}
	}

	if err := f.store.SetCleanShutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	f.bus.Publish(events.Event{Kind: events.KindShutdown})
	return nil
}
