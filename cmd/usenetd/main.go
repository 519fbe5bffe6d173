package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvz-devx/usenetd/internal/api"
	"github.com/jvz-devx/usenetd/internal/config"
	"github.com/jvz-devx/usenetd/internal/directunpack"
	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/downloader"
	"github.com/jvz-devx/usenetd/internal/engine"
	"github.com/jvz-devx/usenetd/internal/events"
	"github.com/jvz-devx/usenetd/internal/extraction"
	"github.com/jvz-devx/usenetd/internal/logger"
	"github.com/jvz-devx/usenetd/internal/nntp"
	"github.com/jvz-devx/usenetd/internal/parity"
	"github.com/jvz-devx/usenetd/internal/platform"
	"github.com/jvz-devx/usenetd/internal/postprocess"
	"github.com/jvz-devx/usenetd/internal/queue"
	"github.com/jvz-devx/usenetd/internal/speedlimit"
	"github.com/jvz-devx/usenetd/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "usenetd",
	Short: "usenetd is a headless Usenet download daemon",
	Long:  "A concurrent, multi-server NNTP download engine with PAR2 repair, archive extraction, and incremental unpacking.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(configPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default: ./config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lg, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := platform.ValidateDependencies(map[string]string{
		"par2":  cfg.Tools.Par2Path,
		"unrar": cfg.Tools.SearchPath,
	}); err != nil {
		lg.Warn("dependency check: %v", err)
	}

	st, err := store.NewPersistentStore(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	bus := events.NewBus()
	nntpMgr := nntp.NewManager(cfg)
	limiter := speedlimit.New(cfg.SpeedLimit.LimitBps)
	q := queue.New()

	extMgr := extraction.NewManager("", "", "", nil, cfg.Tools.TryEmptyPassword, cfg.Extraction.NestedDepth)
	if cfg.Tools.PasswordFile != "" {
		if err := extMgr.LoadPasswordFile(cfg.Tools.PasswordFile); err != nil {
			lg.Warn("load password file: %v", err)
		}
	}

	par2 := parity.NewCLIPar2(cfg.Tools.Par2Path)

	collision := domain.FileCollisionPolicy(cfg.Download.FileCollision)
	if collision == "" {
		collision = domain.CollisionRename
	}
	postproc := postprocess.NewProcessor(par2, extMgr, bus, collision, postprocess.CleanupOptions{
		TargetExtensions:  cfg.Cleanup.TargetExtensions,
		ArchiveExtensions: cfg.Cleanup.ArchiveExtensions,
		SampleFolderNames: cfg.Cleanup.SampleFolderNames,
		DeleteSamples:     cfg.Cleanup.DeleteSamples,
	})

	proc := engine.NewProcessor(cfg, st, nntpMgr, limiter, bus, q, postproc, lg)
	if cfg.DirectUnpack.Enabled {
		proc.SetDirectUnpackFactory(func(dl *domain.Download, tempDir string) engine.DirectUnpackRunner {
			return directunpack.NewCoordinator(st, extMgr, bus, lg, dl, tempDir, cfg.DirectUnpack.DirectRename)
		})
	}

	fac := downloader.New(cfg, st, q, proc, limiter, bus, lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Info("shutdown signal received")
		if err := fac.Shutdown(context.Background(), 30*time.Second); err != nil {
			lg.Error("shutdown: %v", err)
		}
		cancel()
	}()

	restored, err := proc.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore downloads: %w", err)
	}
	for _, dl := range restored {
		lg.Info("restored download %d (%s) as %s", dl.ID, dl.JobName, dl.Status)
		if err := proc.Reprocess(ctx, dl.ID); err != nil {
			lg.Error("resume post-processing for download %d: %v", dl.ID, err)
		}
	}

	fac.Start(ctx)
	go proc.Run(ctx)

	srv := api.New(fac, st, bus, lg)
	addr := ":" + cfg.Port
	if cfg.Port == "" {
		addr = ":8080"
	}
	lg.Info("usenetd listening on %s", addr)
	return srv.Start(ctx, addr)
}
