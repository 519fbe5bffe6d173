// Package directunpack extracts multi-volume RAR sets incrementally while
// a download is still in progress, instead of waiting for the full
// download to finish and handing everything to the post-processor's
// extract stage. It has no teacher analog — the teacher's Downloader ran
// extraction strictly after download completed — so it is grounded on the
// original implementation's batch_processor completion-channel design and
// reuses the teacher-derived internal/extraction primitives for the actual
// unrar invocation.
package directunpack

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/events"
	"github.com/jvz-devx/usenetd/internal/extraction"
	"github.com/jvz-devx/usenetd/internal/logger"
	"github.com/jvz-devx/usenetd/internal/store"
)

var (
	partVolumeRe = regexp.MustCompile(`(?i)^(.*)\.part\d+\.rar$`)
	rNumVolumeRe = regexp.MustCompile(`(?i)^(.*)\.r\d{2,3}$`)
	rarVolumeRe  = regexp.MustCompile(`(?i)^(.*)\.rar$`)
)

// setKey maps a file name to the base name its RAR-set shares, or to the
// file name itself for anything that isn't RAR-shaped — such files are
// never promoted to an archiveGroup, so they're harmless singleton keys.
func setKey(name string) string {
	lower := strings.ToLower(name)
	if m := partVolumeRe.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	if m := rNumVolumeRe.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	if m := rarVolumeRe.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	return lower
}

// archiveGroup is a candidate RAR set: every download file whose name
// shares a common archive base, ordered by file_index — which, for NZBs
// listing volumes in order, is also volume order. confirmed is set once
// the first volume's magic bytes have actually been sniffed as RAR.
type archiveGroup struct {
	path          string
	volumes       []*domain.DownloadFile
	confirmed     bool
	everExtracted bool
}

// Coordinator implements engine.DirectUnpackRunner for one download task.
type Coordinator struct {
	store        *store.PersistentStore
	extraction   *extraction.Manager
	bus          *events.Bus
	logger       *logger.Logger
	dl           *domain.Download
	tempDir      string
	poll         time.Duration
	directRename bool

	mu             sync.Mutex
	groups         []*archiveGroup
	fileToGroup    map[int]*archiveGroup
	cachedPassword string
	extractedCount int
	extractFailed  bool
}

func NewCoordinator(st *store.PersistentStore, ext *extraction.Manager, bus *events.Bus, lg *logger.Logger, dl *domain.Download, tempDir string, directRename bool) *Coordinator {
	return &Coordinator{
		store: st, extraction: ext, bus: bus, logger: lg, dl: dl, tempDir: tempDir,
		poll:         2 * time.Second,
		fileToGroup:  make(map[int]*archiveGroup),
		directRename: directRename,
	}
}

// Run watches fileComplete for file_index completions and, as a backstop
// against a missed or dropped send, polls the store's pending-article list
// on a timer. It returns once ctx is canceled — the download task cancels
// its context as part of Phase 6's end-of-download signal. Once
// anyArticleFailed flips true, Run stops starting new extraction attempts
// (an incomplete volume could corrupt an in-progress archive) but keeps
// watching until ctx is done, so a failure discovered late in the download
// still aborts cleanly instead of racing a half-written volume.
func (c *Coordinator) Run(ctx context.Context, fileComplete <-chan int, downloadComplete, anyArticleFailed *atomic.Bool) error {
	files, err := c.store.GetFiles(ctx, c.dl.ID)
	if err != nil {
		return fmt.Errorf("direct unpack: load files: %w", err)
	}
	c.buildGroups(files)

	if len(c.groups) == 0 {
		return nil
	}

	if err := c.store.UpdateDirectUnpackState(ctx, c.dl.ID, domain.DirectUnpackRunning, 0); err != nil {
		c.logger.Error("direct unpack: set running for download %d: %v", c.dl.ID, err)
	}
	c.bus.Publish(events.Event{Kind: events.KindDirectUnpackStarted, DownloadID: c.dl.ID})

	seen := make(map[int]bool)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finalize(context.Background())
			return nil

		case fi, ok := <-fileComplete:
			if !ok {
				c.finalize(context.Background())
				return nil
			}
			if !seen[fi] && !anyArticleFailed.Load() {
				seen[fi] = true
				c.onFileComplete(ctx, fi)
			}

		case <-ticker.C:
			if anyArticleFailed.Load() {
				continue
			}
			pending, perr := c.store.GetPendingArticles(ctx, c.dl.ID, c.directRename)
			if perr != nil {
				continue
			}
			stillPending := make(map[int]bool, len(pending))
			for _, a := range pending {
				stillPending[a.FileIndex] = true
			}
			for fi := range c.fileToGroup {
				if !seen[fi] && !stillPending[fi] {
					seen[fi] = true
					c.onFileComplete(ctx, fi)
				}
			}
		}
	}
}

func (c *Coordinator) buildGroups(files []*domain.DownloadFile) {
	byKey := make(map[string][]*domain.DownloadFile)
	var order []string
	for _, f := range files {
		key := setKey(f.FileName)
		if key == strings.ToLower(f.FileName) {
			continue // not RAR-shaped
		}
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], f)
	}

	for _, key := range order {
		vols := byKey[key]
		if len(vols) < 1 {
			continue
		}
		sort.Slice(vols, func(i, j int) bool { return vols[i].FileIndex < vols[j].FileIndex })

		g := &archiveGroup{
			path:    filepath.Join(c.tempDir, sanitizeLookup(vols[0].FileName)),
			volumes: vols,
		}
		c.groups = append(c.groups, g)
		for _, v := range vols {
			c.fileToGroup[v.FileIndex] = g
		}
	}
}

// onFileComplete reacts to one file_index finishing download: confirming a
// group as a real RAR set once its first volume is fully written and magic
// bytes are verifiable, or continuing an already-confirmed extraction as
// later volumes arrive.
func (c *Coordinator) onFileComplete(ctx context.Context, fileIndex int) {
	c.mu.Lock()
	g, ok := c.fileToGroup[fileIndex]
	c.mu.Unlock()
	if !ok {
		return
	}

	isFirstVolume := g.volumes[0].FileIndex == fileIndex

	c.mu.Lock()
	confirmed := g.confirmed
	c.mu.Unlock()

	if !confirmed {
		if !isFirstVolume {
			return // later volume finished before the first — wait for it
		}
		ok, err := c.extraction.DetectArchive(g.path)
		if err != nil || !ok {
			return // not actually a RAR set; the post-processor's full extract will cover it
		}
		c.mu.Lock()
		g.confirmed = true
		c.mu.Unlock()
	}

	c.extractGroup(ctx, g)
}

func (c *Coordinator) extractGroup(ctx context.Context, g *archiveGroup) {
	c.mu.Lock()
	cachedPassword := c.cachedPassword
	c.mu.Unlock()

	extracted, usedPassword, err := c.extraction.ExtractWithPasswordList(ctx, g.path, c.tempDir, cachedPassword)
	if err != nil {
		c.logger.Error("direct unpack: extract %s for download %d: %v", g.path, c.dl.ID, err)
		c.mu.Lock()
		c.extractFailed = true
		c.mu.Unlock()
		c.bus.Publish(events.Event{Kind: events.KindDirectUnpackResult, DownloadID: c.dl.ID, Data: map[string]any{
			"archive": filepath.Base(g.path), "error": err.Error(),
		}})
		return
	}

	c.mu.Lock()
	if !g.everExtracted {
		g.everExtracted = true
		c.extractedCount++
	}
	if usedPassword != "" {
		c.cachedPassword = usedPassword
	}
	extractedCount := c.extractedCount
	c.mu.Unlock()

	if serr := c.store.UpdateDirectUnpackState(ctx, c.dl.ID, domain.DirectUnpackRunning, extractedCount); serr != nil {
		c.logger.Error("direct unpack: update extracted count for download %d: %v", c.dl.ID, serr)
	}
	c.bus.Publish(events.Event{Kind: events.KindDirectUnpackProgress, DownloadID: c.dl.ID, Data: map[string]any{
		"archive": filepath.Base(g.path), "files_extracted": len(extracted),
	}})
}

func (c *Coordinator) finalize(ctx context.Context) {
	c.mu.Lock()
	count := c.extractedCount
	failed := c.extractFailed
	c.mu.Unlock()

	state := domain.DirectUnpackNotStarted
	switch {
	case failed:
		state = domain.DirectUnpackFailed
	case count > 0:
		state = domain.DirectUnpackCompleted
	}
	if err := c.store.UpdateDirectUnpackState(ctx, c.dl.ID, state, count); err != nil {
		c.logger.Error("direct unpack: finalize state for download %d: %v", c.dl.ID, err)
	}
	c.bus.Publish(events.Event{Kind: events.KindDirectUnpackResult, DownloadID: c.dl.ID, Data: map[string]any{
		"state": state, "extracted_count": count,
	}})
}

// sanitizeLookup mirrors engine.sanitizeFileName's path-escape guard so the
// looked-up path always matches what the sink actually wrote to disk.
func sanitizeLookup(name string) string {
	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "unnamed"
	}
	return name
}
