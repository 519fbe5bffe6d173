package postprocess

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/events"
	"github.com/jvz-devx/usenetd/internal/extraction"
	"github.com/jvz-devx/usenetd/internal/parity"
)

// Processor runs a download's configured post-processing stages in order:
// verify, repair, extract, move, cleanup — the same phase split as the
// teacher's QueueManager.processor.PostProcess step, generalized into a
// standalone component with its own capability interfaces so the engine
// doesn't need to know about par2/extraction/fs details.
type Processor struct {
	parity     parity.Handler
	extraction *extraction.Manager
	bus        *events.Bus
	collision  domain.FileCollisionPolicy
	cleanup    CleanupOptions
}

func NewProcessor(p parity.Handler, ext *extraction.Manager, bus *events.Bus, collision domain.FileCollisionPolicy, cleanup CleanupOptions) *Processor {
	return &Processor{parity: p, extraction: ext, bus: bus, collision: collision, cleanup: cleanup}
}

// Run executes the stages named by mode against a download staged at
// tempDir, writing surviving files to destDir. cachedPassword seeds the
// extraction password-list retry.
func (p *Processor) Run(ctx context.Context, dl *domain.Download, tempDir, destDir, cachedPassword string) (usedPassword string, err error) {
	stages := dl.PostProcessMode.Stages()

	for _, stage := range stages {
		switch stage {
		case "verify":
			if err := p.runVerify(ctx, dl, tempDir); err != nil {
				return "", err
			}
		case "repair":
			if err := p.runRepair(ctx, dl, tempDir); err != nil {
				return "", err
			}
		case "extract":
			used, err := p.runExtract(ctx, dl, tempDir, cachedPassword)
			if err != nil {
				return "", err
			}
			usedPassword = used
		case "move":
			if err := p.runMove(ctx, dl, tempDir, destDir); err != nil {
				return "", err
			}
		case "cleanup":
			p.runCleanup(ctx, dl, destDir)
		}
	}

	return usedPassword, nil
}

func (p *Processor) findPar2Files(dir string) []string {
	var out []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".par2") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

func (p *Processor) runVerify(ctx context.Context, dl *domain.Download, dir string) error {
	if p.parity == nil {
		return nil
	}
	p.bus.Publish(events.Event{Kind: events.KindVerifyStarted, DownloadID: dl.ID})

	par2Files := p.findPar2Files(dir)
	if len(par2Files) == 0 {
		p.bus.Publish(events.Event{Kind: events.KindVerifyResult, DownloadID: dl.ID, Data: "no par2 set present"})
		return nil
	}

	result, err := p.parity.Verify(ctx, par2Files[0])
	if err != nil {
		return domain.NewError(domain.ErrKindVerificationFailed, "%v", err)
	}

	p.bus.Publish(events.Event{Kind: events.KindVerifyResult, DownloadID: dl.ID, Data: result})

	if !result.IsComplete && !result.Repairable {
		return domain.NewError(domain.ErrKindVerificationFailed, "damaged set is not repairable: %d damaged blocks, %d recovery blocks available",
			result.DamagedBlocks, result.RecoveryBlocksAvailable)
	}

	return nil
}

func (p *Processor) runRepair(ctx context.Context, dl *domain.Download, dir string) error {
	if p.parity == nil {
		return nil
	}
	par2Files := p.findPar2Files(dir)
	if len(par2Files) == 0 {
		return nil
	}

	p.bus.Publish(events.Event{Kind: events.KindRepairStarted, DownloadID: dl.ID})
	err := p.parity.Repair(ctx, par2Files[0])
	p.bus.Publish(events.Event{Kind: events.KindRepairResult, DownloadID: dl.ID, Data: err})
	return err
}

func (p *Processor) runExtract(ctx context.Context, dl *domain.Download, dir, cachedPassword string) (string, error) {
	if p.extraction == nil || !p.extraction.HasExtractors() {
		return "", nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", domain.NewError(domain.ErrKindExtractionFailed, "%v", err)
	}

	var usedPassword string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		full := filepath.Join(dir, entry.Name())

		p.bus.Publish(events.Event{Kind: events.KindExtractStarted, DownloadID: dl.ID, Data: entry.Name()})
		extracted, pw, err := p.extraction.ExtractWithPasswordList(ctx, full, dir, cachedPassword)
		if err != nil {
			if domain.IsKind(err, domain.ErrKindToolUnsupported) {
				continue // not an archive this manager recognizes
			}
			p.bus.Publish(events.Event{Kind: events.KindExtractResult, DownloadID: dl.ID, Data: err})
			return "", err
		}
		if pw != "" {
			usedPassword = pw
		}
		p.bus.Publish(events.Event{Kind: events.KindExtractResult, DownloadID: dl.ID, Data: extracted})
	}

	return usedPassword, nil
}

func (p *Processor) runMove(ctx context.Context, dl *domain.Download, srcDir, destDir string) error {
	moved, err := Move(srcDir, destDir, p.collision)
	p.bus.Publish(events.Event{Kind: events.KindMoveResult, DownloadID: dl.ID, Data: moved})
	return err
}

func (p *Processor) runCleanup(ctx context.Context, dl *domain.Download, destDir string) {
	removed, _ := Cleanup(destDir, p.cleanup)
	p.bus.Publish(events.Event{Kind: events.KindCleanupResult, DownloadID: dl.ID, Data: removed})
}
