// Package downloader is the daemon's single entry point for every control
// operation — add_nzb_content, pause/resume/cancel, priority changes,
// reprocess/reextract, pause_all/resume_all, speed limit changes, and
// shutdown. It owns nothing the engine doesn't already own; it's a thin
// coordination layer over store + queue + engine.Processor + limiter,
// generalized from the teacher's engine.QueueManager (Add/Cancel/
// UpdateStatus) which conflated queueing with these control operations.
package downloader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/segmentio/ksuid"

	"github.com/jvz-devx/usenetd/internal/config"
	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/engine"
	"github.com/jvz-devx/usenetd/internal/events"
	"github.com/jvz-devx/usenetd/internal/logger"
	"github.com/jvz-devx/usenetd/internal/nzbparse"
	"github.com/jvz-devx/usenetd/internal/queue"
	"github.com/jvz-devx/usenetd/internal/speedlimit"
	"github.com/jvz-devx/usenetd/internal/store"
)

// AddOptions carries add_nzb_content's per-request overrides; zero values
// defer to the resolved category's (or the global) defaults.
type AddOptions struct {
	Category        string
	Destination     string
	PostProcessMode domain.PostProcessMode
	Priority        int
	Password        string
}

// Facade is the daemon's control-operation surface, safe for concurrent use
// from however many API/CLI callers invoke it at once.
type Facade struct {
	cfg     *config.Config
	store   *store.PersistentStore
	queue   *queue.Queue
	proc    *engine.Processor
	limiter *speedlimit.Limiter
	bus     *events.Bus
	logger  *logger.Logger
	scripts *ScriptRunner

	// acceptingNew flips false once, at Shutdown; every subsequent
	// add_nzb_content call is rejected without touching the store.
	acceptingNew atomic.Bool
}

func New(
	cfg *config.Config,
	st *store.PersistentStore,
	q *queue.Queue,
	proc *engine.Processor,
	limiter *speedlimit.Limiter,
	bus *events.Bus,
	lg *logger.Logger,
) *Facade {
	f := &Facade{cfg: cfg, store: st, queue: q, proc: proc, limiter: limiter, bus: bus, logger: lg}
	f.scripts = NewScriptRunner(cfg, bus, lg)
	f.acceptingNew.Store(true)
	return f
}

// Start launches the facade's background watchers (currently just script
// dispatch) bound to ctx; call once during daemon startup after New.
func (f *Facade) Start(ctx context.Context) {
	f.scripts.Watch(ctx, f.store)
}

// AddNZBContent parses the uploaded NZB, resolves its destination and
// post-processing mode, checks duplicate policy and free disk space, and
// inserts the download row, then its files, then its articles (three
// separate store writes, so a failure partway leaves the earlier rows in
// place) before pushing it onto the queue — spec's add_nzb_content.
func (f *Facade) AddNZBContent(ctx context.Context, nzbBytes []byte, name string, opts AddOptions) (domain.DownloadId, error) {
	if !f.acceptingNew.Load() {
		return 0, domain.NewError(domain.ErrKindShuttingDown, "daemon is shutting down")
	}

	// Ties together every log line this submission produces, the same role
	// the teacher's ksuid.New() played as a Download's own external ID
	// before downloads here got a plain autoincrement ID instead.
	reqID := ksuid.New().String()

	parsed, err := nzbparse.Parse(bytes.NewReader(nzbBytes))
	if err != nil {
		return 0, domain.NewError(domain.ErrKindInvalidNZB, "%v", err)
	}

	if dup, action, err := f.checkDuplicate(ctx, parsed, name); err != nil {
		return 0, err
	} else if dup != nil {
		f.bus.Publish(events.Event{Kind: events.KindDuplicateDetected, Data: map[string]any{
			"existing_id": dup.ID, "action": action,
		}})
		if action == domain.DuplicateBlock {
			return 0, domain.NewError(domain.ErrKindDuplicate, "nzb already queued as download %d", dup.ID)
		}
	}

	totalSize := parsed.Doc.TotalSize()
	destination := f.resolveDestination(opts)
	if err := f.checkDiskSpace(destination, totalSize); err != nil {
		return 0, err
	}

	postProcessMode := f.resolvePostProcessMode(opts)
	jobName := parsed.Doc.JobName(name)
	category := nzbparse.ResolveCategory(opts.Category, "")

	dl := &domain.Download{
		Name:            name,
		NZBHash:         parsed.Hash,
		JobName:         jobName,
		NZBMetaName:     parsed.NZBMetaName,
		Category:        category,
		Destination:     destination,
		PostProcessMode: postProcessMode,
		Priority:        opts.Priority,
		Status:          domain.StatusQueued,
		SizeBytesTotal:  totalSize,
	}

	id, err := f.store.InsertDownload(ctx, dl)
	if err != nil {
		return 0, fmt.Errorf("insert download: %w", err)
	}
	dl.ID = id

	files, articles := parsed.Doc.BuildRecords()
	if err := f.store.InsertFilesBatch(ctx, id, files); err != nil {
		return 0, fmt.Errorf("insert files: %w", err)
	}
	if err := f.store.InsertArticlesBatch(ctx, id, articles); err != nil {
		return 0, fmt.Errorf("insert articles: %w", err)
	}
	if opts.Password != "" {
		if err := f.store.SaveCachedPassword(ctx, parsed.Hash, opts.Password); err != nil {
			f.logger.Error("cache password for download %d: %v", id, err)
		}
	}

	f.logger.Info("add_nzb_content[%s]: queued download %d (%s, %s)", reqID, id, jobName, humanize.Bytes(uint64(totalSize)))
	f.bus.Publish(events.Event{Kind: events.KindQueued, DownloadID: id})
	f.queue.Push(id, dl.Priority, time.Now().UnixNano())
	return id, nil
}

func (f *Facade) checkDuplicate(ctx context.Context, parsed *nzbparse.Parsed, name string) (*domain.Download, domain.DuplicateAction, error) {
	if !f.cfg.DuplicateDetection.Enabled {
		return nil, "", nil
	}
	action := domain.DuplicateAction(f.cfg.DuplicateDetection.Action)
	if action == "" {
		action = domain.DuplicateWarn
	}

	for _, method := range f.cfg.DuplicateDetection.Methods {
		var (
			existing *domain.Download
			err      error
		)
		switch domain.DuplicateMethod(method) {
		case domain.DuplicateByNZBHash:
			existing, err = f.store.FindByNZBHash(ctx, parsed.Hash)
		case domain.DuplicateByNZBName:
			existing, err = f.store.FindByName(ctx, name)
		case domain.DuplicateByJobName:
			existing, err = f.store.FindByJobName(ctx, parsed.Doc.JobName(name))
		}
		if err != nil {
			return nil, "", err
		}
		if existing != nil {
			return existing, action, nil
		}
	}
	return nil, "", nil
}

func (f *Facade) resolveDestination(opts AddOptions) string {
	if opts.Destination != "" {
		return opts.Destination
	}
	if cat, ok := f.cfg.CategoryFor(opts.Category); ok && cat.Destination != "" {
		return cat.Destination
	}
	return f.cfg.Download.OutDir
}

func (f *Facade) resolvePostProcessMode(opts AddOptions) domain.PostProcessMode {
	if opts.PostProcessMode != "" {
		return opts.PostProcessMode
	}
	if cat, ok := f.cfg.CategoryFor(opts.Category); ok && cat.PostProcess != "" {
		return domain.PostProcessMode(cat.PostProcess)
	}
	if f.cfg.Download.DefaultPostProcess != "" {
		return domain.PostProcessMode(f.cfg.Download.DefaultPostProcess)
	}
	return domain.PostProcessUnpackAndCleanup
}

// checkDiskSpace requires free space ≥ size × multiplier + min_free against
// destination (or its nearest existing ancestor, for a destination that
// hasn't been created yet).
func (f *Facade) checkDiskSpace(destination string, size int64) error {
	if !f.cfg.DiskSpace.Enabled {
		return nil
	}
	dir := destination
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	free, err := freeDiskSpace(dir)
	if err != nil {
		return fmt.Errorf("check disk space: %w", err)
	}

	required := int64(float64(size)*f.cfg.DiskSpace.SizeMultiplier) + f.cfg.DiskSpace.MinFreeSpace
	if free < required {
		return domain.NewError(domain.ErrKindInsufficientSpace,
			"need %s free, have %s", humanize.Bytes(uint64(required)), humanize.Bytes(uint64(free))).
			WithField("required_bytes", required).WithField("available_bytes", free)
	}
	return nil
}
