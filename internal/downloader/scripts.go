package downloader

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/jvz-devx/usenetd/internal/config"
	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/events"
	"github.com/jvz-devx/usenetd/internal/logger"
)

// scriptTimeout bounds how long a single category script may run before
// it's killed, matching the teacher's pattern of a hard exec.CommandContext
// deadline around every external tool invocation.
const scriptTimeout = 5 * time.Minute

// ScriptRunner dispatches a category's configured scripts on Complete,
// OnPostProcessComplete and Failed events, supplementing the distillation's dropped webhook/script
// hooks (original_source/src/downloader/webhooks.rs) using the same
// os/exec.CommandContext idiom the teacher uses for unrar/par2 invocations.
type ScriptRunner struct {
	cfg    *config.Config
	bus    *events.Bus
	logger *logger.Logger
}

func NewScriptRunner(cfg *config.Config, bus *events.Bus, lg *logger.Logger) *ScriptRunner {
	return &ScriptRunner{cfg: cfg, bus: bus, logger: lg}
}

// Watch subscribes to the event bus and dispatches scripts in the
// background until ctx is cancelled. Call once from the daemon's startup
// wiring (Facade.Start does this).
func (r *ScriptRunner) Watch(ctx context.Context, store scriptStore) {
	ch, unsubscribe := r.bus.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				switch ev.Kind {
				case events.KindComplete, events.KindPostProcessComplete, events.KindFailed:
					r.dispatch(ctx, store, ev)
				}
			}
		}
	}()
}

// scriptStore is the narrow store surface Watch needs, kept separate from
// *store.PersistentStore so this file doesn't widen ScriptRunner's import
// surface just to look up one download by id.
type scriptStore interface {
	GetDownload(ctx context.Context, id domain.DownloadId) (*domain.Download, error)
	MarkScriptsRun(ctx context.Context, id domain.DownloadId) error
}

func (r *ScriptRunner) dispatch(ctx context.Context, store scriptStore, ev events.Event) {
	dl, err := store.GetDownload(ctx, ev.DownloadID)
	if err != nil {
		return
	}
	cat, ok := r.cfg.CategoryFor(dl.Category)
	if !ok || len(cat.Scripts) == 0 {
		return
	}

	for _, script := range cat.Scripts {
		if err := r.Run(ctx, script, ev, dl); err != nil {
			r.logger.Error("script %s for download %d: %v", script, dl.ID, err)
		}
	}
	if err := store.MarkScriptsRun(ctx, dl.ID); err != nil {
		r.logger.Error("mark scripts run for download %d: %v", dl.ID, err)
	}
}

// Run invokes one script with the download's outcome passed as environment
// variables, the same convention NZB post-processing scripts universally
// expect (NZBPO_*-style env vars in the wider ecosystem).
func (r *ScriptRunner) Run(ctx context.Context, script string, ev events.Event, dl *domain.Download) error {
	runCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, script)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("USENETD_EVENT=%s", ev.Kind),
		fmt.Sprintf("USENETD_DOWNLOAD_ID=%d", dl.ID),
		fmt.Sprintf("USENETD_NAME=%s", dl.Name),
		fmt.Sprintf("USENETD_JOB_NAME=%s", dl.JobName),
		fmt.Sprintf("USENETD_DESTINATION=%s", dl.Destination),
		fmt.Sprintf("USENETD_CATEGORY=%s", dl.Category),
		fmt.Sprintf("USENETD_STATUS=%s", dl.Status),
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("script %s failed: %w\noutput: %s", script, err, output)
	}
	return nil
}
