package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/events"
	"github.com/jvz-devx/usenetd/internal/nntp"
	"github.com/jvz-devx/usenetd/internal/store"
	"github.com/jvz-devx/usenetd/internal/yenc"
)

// articleChannelBuffer bounds the batch status writer's input channel —
// the admission-control point against a Store that can't keep up with
// write volume, per spec.md §5's backpressure design.
const articleChannelBuffer = 512

// busyRetryLimit caps how many times one batch's provider-busy articles are
// retried before the task gives up on them for this download, mirroring
// the teacher's worker.go RetryCount<3 ceiling (internal/engine/worker.go).
const busyRetryLimit = 3

// DirectUnpackRunner is the capability the DirectUnpack Coordinator (a
// separate package, wired in by the caller to avoid an import cycle)
// implements for one download task's lifetime.
type DirectUnpackRunner interface {
	Run(ctx context.Context, fileComplete <-chan int, downloadComplete, anyArticleFailed *atomic.Bool) error
}

// DirectUnpackFactory builds a coordinator for one download, or returns nil
// to skip DirectUnpack entirely (e.g. the capability isn't wired up yet).
type DirectUnpackFactory func(dl *domain.Download, tempDir string) DirectUnpackRunner

// downloadTask drives one download's Phase 1–7 pipeline (spec.md §4.4.2),
// generalized from the teacher's Downloader.Download/runWorkerPool/worker/
// processSegment/dispatchJobs (internal/engine/worker.go,
// internal/engine/downloader.go) from single-article jobs to pipelined,
// provider-failover batches fetched through nntp.Manager.FetchBatch.
type downloadTask struct {
	p       *Processor
	dl      *domain.Download
	tempDir string

	sinks   *sinks
	tracker *completionTracker

	statusCh chan store.ArticleStatusUpdate

	downloadedArticles atomic.Int64
	downloadedBytes    atomic.Int64
	batchFailedCount   atomic.Int64
	individuallyFailed atomic.Int64
	downloadComplete   atomic.Bool
	anyArticleFailed   atomic.Bool

	errMu    sync.Mutex
	firstErr error
}

func (t *downloadTask) recordErr(err error) {
	if err == nil {
		return
	}
	t.errMu.Lock()
	if t.firstErr == nil {
		t.firstErr = err
	}
	t.errMu.Unlock()
}

// run executes Phases 1 through 7 and returns once the download has either
// completed, failed, or been handed off to post-processing, or, when its
// context was cancelled from outside, after Phase 6 without touching the
// record's status.
func (t *downloadTask) run(ctx context.Context) {
	p, dl := t.p, t.dl

	// Phase 5 background helpers and the fetch fan-out are skipped by Phase
	// 2's empty-work short-circuit; everything below assumes len(articles)>0.
	articles, err := p.store.GetPendingArticles(ctx, dl.ID, p.cfg.DirectUnpack.DirectRename)
	if err != nil {
		t.fail(ctx, fmt.Errorf("load pending articles: %w", err))
		return
	}

	if err := p.store.SetStarted(ctx, dl.ID, time.Now()); err != nil {
		t.fail(ctx, fmt.Errorf("set started: %w", err))
		return
	}
	p.bus.Publish(events.Event{Kind: events.KindDownloadStarted, DownloadID: dl.ID})

	if len(articles) == 0 {
		p.bus.Publish(events.Event{Kind: events.KindDownloadComplete, DownloadID: dl.ID})
		t.succeed(ctx)
		return
	}

	files, err := p.store.GetFiles(ctx, dl.ID)
	if err != nil {
		t.fail(ctx, fmt.Errorf("load files: %w", err))
		return
	}

	t.sinks = newSinks(t.tempDir)
	for _, f := range files {
		if _, err := t.sinks.register(f.FileIndex, f.FileName); err != nil {
			t.fail(ctx, err)
			return
		}
	}
	defer t.sinks.closeAll()

	remaining := make(map[int]int64, len(files))
	for _, a := range articles {
		remaining[a.FileIndex]++
	}
	t.tracker = newCompletionTracker(remaining)

	total := int64(len(articles))

	parentCtx := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var duWG sync.WaitGroup
	if p.directUnpackFactory != nil && p.cfg.DirectUnpack.Enabled &&
		(dl.PostProcessMode == domain.PostProcessUnpack || dl.PostProcessMode == domain.PostProcessUnpackAndCleanup) {
		if runner := p.directUnpackFactory(dl, t.tempDir); runner != nil {
			duWG.Add(1)
			go func() {
				defer duWG.Done()
				_ = runner.Run(ctx, t.tracker.fileComplete, &t.downloadComplete, &t.anyArticleFailed)
			}()
		}
	}

	t.statusCh = make(chan store.ArticleStatusUpdate, articleChannelBuffer)
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		t.runBatchStatusWriter(context.Background())
	}()

	var helperWG sync.WaitGroup
	helperWG.Add(2)
	go func() {
		defer helperWG.Done()
		t.runProgressReporter(ctx, total)
	}()
	go func() {
		defer helperWG.Done()
		t.runFastFailWatcher(ctx, cancel)
	}()

	concurrency := p.nntp.TotalCapacity()
	if concurrency <= 0 {
		concurrency = 1
	}
	pipelineDepth := p.nntp.PipelineDepth()
	batches := splitBatches(articles, pipelineDepth)

	fetchPool := pool.New().WithMaxGoroutines(concurrency).WithContext(ctx)
	for _, batch := range batches {
		batch := batch
		fetchPool.Go(func(c context.Context) error {
			t.processBatch(c, batch)
			return nil
		})
	}
	_ = fetchPool.Wait()

	// Phase 6 — signal end-of-download.
	t.downloadComplete.Store(true)
	cancel() // stop the fast-fail watcher
	close(t.statusCh)
	writerWG.Wait()
	helperWG.Wait()
	duWG.Wait()

	// Phase 7 — finalization.
	if parentCtx.Err() != nil {
		// Cancelled from outside (pause, cancel or shutdown): the control
		// operation that cancelled the task owns the record's status.
		return
	}
	successCount := t.downloadedArticles.Load()
	totalFailed := t.batchFailedCount.Load() + t.individuallyFailed.Load()
	totalAttempted := successCount + totalFailed

	if successCount == 0 || (totalAttempted > 0 && float64(totalFailed)/float64(totalAttempted) > p.cfg.FailurePolicy.MaxFailureRatio) {
		t.errMu.Lock()
		first := t.firstErr
		t.errMu.Unlock()
		summary := fmt.Sprintf("%d/%d articles failed", totalFailed, totalAttempted)
		if first != nil {
			summary = fmt.Sprintf("%s (first error: %v)", summary, first)
		}
		p.bus.Publish(events.Event{Kind: events.KindDownloadFailed, DownloadID: dl.ID, Data: map[string]any{
			"articles_succeeded": successCount, "articles_failed": totalFailed, "articles_total": totalAttempted,
		}})
		t.fail(context.Background(), errors.New(summary))
		return
	}

	p.bus.Publish(events.Event{Kind: events.KindDownloadComplete, DownloadID: dl.ID, Data: map[string]any{
		"articles_failed": totalFailed, "articles_total": totalAttempted,
	}})
	t.succeed(context.Background())
}

func (t *downloadTask) fail(ctx context.Context, err error) {
	t.p.failDownload(ctx, t.dl, err)
}

func (t *downloadTask) succeed(ctx context.Context) {
	t.p.finishDownloading(ctx, t.dl)
}

// runProgressReporter ticks at a fixed interval, derives speed from the
// byte-counter delta, and emits a Downloading progress event.
func (t *downloadTask) runProgressReporter(ctx context.Context, total int64) {
	const interval = 500 * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastBytes int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bytesNow := t.downloadedBytes.Load()
			speed := float64(bytesNow-lastBytes) / interval.Seconds()
			lastBytes = bytesNow

			downloaded := t.downloadedArticles.Load()
			failed := t.batchFailedCount.Load() + t.individuallyFailed.Load()
			percent := 0.0
			if total > 0 {
				percent = float64(downloaded+failed) / float64(total) * 100
			}
			health := 100.0
			if attempted := downloaded + failed; attempted > 0 {
				health = float64(downloaded) / float64(attempted) * 100
			}

			t.p.bus.Publish(events.Event{Kind: events.KindDownloadProgress, DownloadID: t.dl.ID, Data: map[string]any{
				"percent": percent, "speed_bps": speed, "failed_articles": failed,
				"total_articles": total, "health_percent": health,
			}})
		}
	}
}

// runFastFailWatcher polls every 200ms; once attempted reaches the
// configured sample size it makes one pass/fail decision and then exits —
// it never re-evaluates a later sample.
func (t *downloadTask) runFastFailWatcher(ctx context.Context, cancel context.CancelFunc) {
	sampleSize := t.p.cfg.FailurePolicy.FastFailSampleSize
	threshold := t.p.cfg.FailurePolicy.FastFailThreshold
	if sampleSize <= 0 {
		return
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			downloaded := t.downloadedArticles.Load()
			failed := t.batchFailedCount.Load() + t.individuallyFailed.Load()
			attempted := downloaded + failed
			if attempted < int64(sampleSize) {
				continue
			}
			if float64(failed)/float64(attempted) >= threshold {
				t.recordErr(domain.NewError(domain.ErrKindFastFailTripped,
					"fast-fail: %d/%d articles failed in the first sample", failed, attempted))
				cancel()
			}
			return
		}
	}
}

// runBatchStatusWriter drains statusCh and flushes to the Store in
// amortized batches instead of one write per article.
func (t *downloadTask) runBatchStatusWriter(ctx context.Context) {
	const flushInterval = 250 * time.Millisecond
	const flushSize = 100

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	buf := make([]store.ArticleStatusUpdate, 0, flushSize)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := t.p.store.UpdateArticleStatusBatch(ctx, buf); err != nil {
			t.p.logger.Error("batch status writer: %v", err)
		}
		buf = buf[:0]
	}

	for {
		select {
		case u, ok := <-t.statusCh:
			if !ok {
				flush()
				return
			}
			buf = append(buf, u)
			if len(buf) >= flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// splitBatches divides articles into contiguous, order-preserving chunks of
// at most pipelineDepth articles each, the last batch holding the
// remainder.
func splitBatches(articles []*domain.Article, pipelineDepth int) [][]*domain.Article {
	if pipelineDepth <= 0 {
		pipelineDepth = 1
	}
	var batches [][]*domain.Article
	for i := 0; i < len(articles); i += pipelineDepth {
		end := i + pipelineDepth
		if end > len(articles) {
			end = len(articles)
		}
		batches = append(batches, articles[i:end])
	}
	return batches
}

// processBatch runs one pipelined NNTP conversation for a batch and writes
// every successfully fetched article's decoded bytes, per spec.md §4.4.2
// Phase 5's per-batch fetch steps 1–7. Errors are recorded on the task's
// atomics; processBatch never returns an error itself so one failed batch
// doesn't cancel its siblings in the fan-out pool.
func (t *downloadTask) processBatch(ctx context.Context, batch []*domain.Article) {
	if ctx.Err() != nil {
		t.markFailed(batch, ctx.Err())
		return
	}

	var totalBytes int64
	ids := make([]string, len(batch))
	byID := make(map[string]*domain.Article, len(batch))
	for i, a := range batch {
		ids[i] = a.MessageID
		totalBytes += a.SizeBytes
		byID[a.MessageID] = a
	}

	if err := t.p.limiter.Acquire(ctx, totalBytes); err != nil {
		t.markFailed(batch, err)
		return
	}

	missingFrom := make(map[string]map[string]bool)
	pending := byID

	for attempt := 0; attempt <= busyRetryLimit && len(pending) > 0; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				t.markFailedMap(pending, ctx.Err())
				return
			}
		}

		retryIDs := make([]string, 0, len(pending))
		for id := range pending {
			retryIDs = append(retryIDs, id)
		}

		results, err := t.p.nntp.FetchBatch(ctx, retryIDs, missingFrom)
		if err != nil {
			t.markFailedMap(pending, err)
			return
		}

		next := make(map[string]*domain.Article)
		for _, r := range results {
			a := pending[r.MessageID]
			switch {
			case r.Err == nil:
				t.handleSuccess(a, r.Data)
			case errors.Is(r.Err, nntp.ErrArticleNotFound):
				t.markMissing(a, r.Err)
			case errors.Is(r.Err, nntp.ErrProviderBusy):
				next[r.MessageID] = a
			default:
				t.markFailed([]*domain.Article{a}, r.Err)
			}
		}
		pending = next
	}

	if len(pending) > 0 {
		t.markFailedMap(pending, nntp.ErrProviderBusy)
	}
}

func (t *downloadTask) markFailedMap(m map[string]*domain.Article, err error) {
	batch := make([]*domain.Article, 0, len(m))
	for _, a := range m {
		batch = append(batch, a)
	}
	t.markFailed(batch, err)
}

// markFailed records a batch-level (connection/protocol-class) failure for
// every article in batch — the per-article retry does NOT apply to this
// class of error per spec.md §7's disposition table.
func (t *downloadTask) markFailed(batch []*domain.Article, err error) {
	t.recordErr(err)
	t.anyArticleFailed.Store(true)
	for _, a := range batch {
		t.batchFailedCount.Add(1)
		t.statusCh <- store.ArticleStatusUpdate{ArticleID: a.ID, Status: domain.ArticleFailed}
	}
}

// markMissing records a confirmed-absent (430, every provider exhausted)
// article — the "individually failed" bucket Phase 7 sums separately from
// batch-level failures.
func (t *downloadTask) markMissing(a *domain.Article, err error) {
	t.recordErr(err)
	t.anyArticleFailed.Store(true)
	t.individuallyFailed.Add(1)
	t.statusCh <- store.ArticleStatusUpdate{ArticleID: a.ID, Status: domain.ArticleFailed}
}

// handleSuccess decodes one article's yEnc body and writes it at its
// reassembled-file offset, falling back to a legacy per-segment dump file
// on decode failure (never failing the batch for that).
func (t *downloadTask) handleSuccess(a *domain.Article, raw []byte) {
	data, offset, fileSize, err := yenc.DecodeSegment(bytes.NewReader(raw))
	if err != nil {
		if werr := writeLegacyArticle(t.tempDir, a.SegmentNumber, raw); werr != nil {
			t.recordErr(werr)
		}
		t.finishArticle(a)
		return
	}

	if _, ok := t.sinks.get(a.FileIndex); ok {
		if err := t.sinks.preAllocateOnce(a.FileIndex, fileSize); err != nil {
			t.recordErr(err)
		}
		if err := t.sinks.writeAt(a.FileIndex, data, offset); err != nil {
			t.recordErr(err)
			if werr := writeLegacyArticle(t.tempDir, a.SegmentNumber, data); werr != nil {
				t.recordErr(werr)
			}
		}
	} else {
		if err := writeLegacyArticle(t.tempDir, a.SegmentNumber, data); err != nil {
			t.recordErr(err)
		}
	}

	t.downloadedBytes.Add(int64(len(data)))
	t.finishArticle(a)
}

func (t *downloadTask) finishArticle(a *domain.Article) {
	t.downloadedArticles.Add(1)
	t.statusCh <- store.ArticleStatusUpdate{ArticleID: a.ID, Status: domain.ArticleDownloaded}
	if t.tracker.articleCompleted(a.FileIndex) {
		if err := t.sinks.finalSize(a.FileIndex); err != nil {
			t.recordErr(err)
		}
	}
}
