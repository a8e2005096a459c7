// Command yardsale runs the yard sale wealth-exchange simulation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/talgya/yardsale/internal/api"
	"github.com/talgya/yardsale/internal/config"
	"github.com/talgya/yardsale/internal/engine"
	"github.com/talgya/yardsale/internal/entropy"
	"github.com/talgya/yardsale/internal/persistence"
	"github.com/talgya/yardsale/internal/persistence/framelog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	headless := flag.Bool("headless", false, "tick as fast as possible without the cadence")
	ticks := flag.Int("ticks", 0, "headless: stop after this many ticks (0 runs until an oligarch emerges)")
	resume := flag.Bool("resume", false, "continue the last saved run")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("yard sale wealth simulation",
		"people", cfg.Simulation.People,
		"plays_per_tick", cfg.Simulation.PlaysPerTick,
		"gain_pct", cfg.Simulation.GainPct,
		"loss_pct", cfg.Simulation.LossPct,
		"distribution", cfg.Simulation.Distribution,
	)

	// ── Entropy ───────────────────────────────────────────────────────
	src, err := entropy.FromConfig(cfg.Entropy.Source, cfg.Entropy.Seed, cfg.EntropyKey())
	if err != nil {
		slog.Error("entropy source", "error", err)
		os.Exit(1)
	}

	ctl, err := engine.NewController(cfg.Simulation, src)
	if err != nil {
		slog.Error("invalid simulation parameters", "error", err)
		os.Exit(1)
	}
	ctl.OligarchShare = cfg.OligarchShare

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if path := cfg.Storage.DBPath; path != "" {
		os.MkdirAll(filepath.Dir(path), 0755)
		db, err = persistence.Open(path)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database opened", "path", path)

		if *resume {
			switch err := db.RestoreLast(ctl); {
			case errors.Is(err, persistence.ErrNoSnapshot):
				slog.Info("no saved run, starting fresh")
			case err != nil:
				slog.Error("resume failed, starting fresh", "error", err)
			default:
				f := ctl.Frame()
				slog.Info("resumed run", "run", f.RunID, "iterations", f.Iterations)
			}
		}

		if err := db.TrackRuns(ctl); err != nil {
			slog.Error("save run failed", "error", err)
		}

		if every := cfg.Storage.SaveEveryTicks; every > 0 {
			n := 0
			ctl.OnFrame(func(engine.Frame) {
				n++
				if n%every == 0 {
					if err := db.SaveState(ctl); err != nil {
						slog.Error("autosave failed", "error", err)
					}
				}
			})
		}
	} else if *resume {
		slog.Warn("-resume ignored: storage.db_path is empty")
	}

	// ── Frame log ─────────────────────────────────────────────────────
	if dir := cfg.Storage.FrameLogDir; dir != "" {
		frames := framelog.NewLogger(dir)
		defer frames.Close()
		ctl.OnFrame(func(f engine.Frame) {
			if err := frames.WriteFrame(f); err != nil {
				slog.Error("frame log write failed", "error", err)
			}
		})
		slog.Info("frame log enabled", "dir", dir)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.Port > 0 {
		adminKey := cfg.AdminKey()
		if adminKey == "" {
			slog.Warn(cfg.API.AdminKeyEnv + " not set, admin POST endpoints will be disabled")
		}
		api.NewServer(ctl, db, cfg.API.Port, adminKey, cfg.Cadence()).Start()
	}

	// ── Run ───────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *headless {
		runHeadless(ctx, ctl, *ticks)
	} else {
		runCadence(ctx, ctl, cfg)
	}

	// Final save on shutdown.
	if db != nil {
		if err := db.SaveState(ctl); err != nil {
			slog.Error("final save failed", "error", err)
		}
	}

	f := ctl.Frame()
	fmt.Printf("\nRun %s stopped after %s plays.\n", f.RunID, humanize.Comma(int64(f.Iterations)))
	fmt.Printf("Total wealth %s (expected %s), Gini %.3f, richest agent %d holds %.1f%%.\n",
		humanize.Commaf(f.RunningTotal), humanize.Commaf(f.ExpectedTotal),
		f.Stats.Gini, f.Stats.Richest, 100*f.Stats.RichestShare)
	if ctl.OligarchShare > 0 && f.Stats.RichestShare >= ctl.OligarchShare {
		fmt.Printf("Agent %d started with $%s and became an oligarch.\n",
			f.Stats.Richest, humanize.Commaf(f.RichestStart))
	}
}

func runHeadless(ctx context.Context, ctl *engine.Controller, limit int) {
	slog.Info("running headless", "ticks", limit)
	if limit == 0 && ctl.OligarchShare == 0 {
		slog.Warn("no tick limit and oligarch stop disabled, running until interrupted")
	}
	for i := 0; limit == 0 || i < limit; i++ {
		if ctx.Err() != nil {
			slog.Info("interrupted")
			return
		}
		f, err := ctl.Tick()
		if err != nil {
			slog.Error("tick failed", "error", err)
			return
		}
		if f.Oligarch {
			return
		}
	}
}

func runCadence(ctx context.Context, ctl *engine.Controller, cfg config.Config) {
	oligarch := make(chan struct{}, 1)
	ctl.OnFrame(func(f engine.Frame) {
		if f.Oligarch {
			select {
			case oligarch <- struct{}{}:
			default:
			}
		}
	})

	if _, err := ctl.Start(ctl.Params(), cfg.Cadence()); err != nil {
		slog.Error("start failed", "error", err)
		return
	}
	if cfg.API.Port > 0 {
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	select {
	case <-ctx.Done():
		slog.Info("received signal, shutting down")
	case <-oligarch:
		if cfg.API.Port > 0 {
			// The API can restart the run; keep serving until interrupted.
			<-ctx.Done()
		}
	}
	ctl.Stop()
}
