package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voledrone.dev/internal/drone"
	"voledrone.dev/internal/persistence/indexdb"
	persistlog "voledrone.dev/internal/persistence/log"
	"voledrone.dev/internal/persistence/savefile"
	"voledrone.dev/internal/rig"
	"voledrone.dev/internal/rig/simrig"
	"voledrone.dev/internal/settings"
	"voledrone.dev/internal/transport/ws"
	"voledrone.dev/internal/tuning"
)

func loadTuning(path string) (tuning.Tuning, error) {
	if strings.TrimSpace(path) == "" {
		return tuning.Defaults(), nil
	}
	t, err := tuning.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return tuning.Defaults(), nil
	}
	return t, err
}

func settingsFromFlags(c *cli.Context, tune tuning.Tuning) (*settings.Settings, error) {
	cadence, err := settings.ParseCadence(c.String(flagCadence))
	if err != nil {
		return nil, err
	}
	s := settings.Default()
	s.Enabled = !c.Bool(flagDisabled)
	s.EjectStone = c.Bool(flagEjectStone)
	s.Cadence = cadence
	depth := c.Int(flagMaxDepth)
	if depth < 0 {
		depth = tune.Orchestrator.MaxDepth
	}
	s.SetMaxDrillingDepth(depth)
	return s, nil
}

func runAction(c *cli.Context, logger *zap.SugaredLogger) (err error) {
	tune, err := loadTuning(c.String(flagTuning))
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}
	set, err := settingsFromFlags(c, tune)
	if err != nil {
		return err
	}

	ranges := tune.RigRanges()
	sim := simrig.NewVehicle(ranges)
	veh, err := rig.BindVehicle(sim.Inventory(), ranges)
	if err != nil {
		return fmt.Errorf("bind vehicle: %w", err)
	}

	vehicleID := c.String(flagVehicleID)
	dataDir := filepath.Join(c.String(flagData), "vehicles", vehicleID)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	clk := clock.New()
	telemetry := persistlog.NewTelemetryLogger(dataDir, clk)
	commands := persistlog.NewCommandLogger(dataDir, clk)
	defer func() {
		err = multierr.Combine(err, telemetry.Close(), commands.Close())
	}()

	cfg := drone.Config{
		VehicleID:    vehicleID,
		Tuning:       tune,
		Settings:     set,
		SaveDir:      savefile.Dir(filepath.Join(dataDir, "saves")),
		KeepSaves:    c.Int(flagKeepSaves),
		LoadOnStart:  c.Bool(flagLoadOnStart),
		Clock:        clk,
		Stepper:      sim,
		StatusSinks:  []drone.StatusSink{telemetry},
		CommandSinks: []drone.CommandSink{commands},
	}

	if !c.Bool(flagDisableDB) {
		idx, openErr := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "vole.sqlite"))
		if openErr != nil {
			return fmt.Errorf("open index: %w", openErr)
		}
		defer func() {
			if dropped := idx.Dropped(); dropped > 0 {
				logger.Warnw("index dropped entries", "count", dropped)
			}
			err = multierr.Append(err, idx.Close())
		}()
		if digest, upErr := idx.UpsertTuning(tune); upErr != nil {
			logger.Warnw("index: upsert tuning", "error", upErr)
		} else {
			logger.Infow("tuning indexed", "digest", digest)
		}
		cfg.StatusSinks = append(cfg.StatusSinks, idx)
		cfg.CommandSinks = append(cfg.CommandSinks, idx)
		cfg.SaveRecorder = idx
	}

	d := drone.New(cfg, veh, sim.Containers(), logger)
	wsSrv := ws.NewServer(d, vehicleID, tune.TickMs, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/v1/status", wsSrv.StatusHandler())
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              c.String(flagAddr),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infow("listening", "addr", srv.Addr, "vehicle", vehicleID, "data", dataDir)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Infow("stopped")
	return err
}
