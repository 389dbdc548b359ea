package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threatmem/internal/ledger"
	"threatmem/internal/predict"
	"threatmem/internal/promote"
	"threatmem/internal/scoring"
	"threatmem/internal/server"
	"threatmem/internal/store"
)

func main() {
	cfg := server.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ts, err := store.New(ctx, store.Config{
		WorkingTTL:   cfg.WorkingTTL,
		ShortTermTTL: cfg.ShortTermTTL,
		LongTermTTL:  cfg.LongTermTTL,
		LongTermPath: cfg.LongTermPath,
	})
	if err != nil {
		slog.Error("open tier store", "err", err)
		os.Exit(1)
	}
	defer ts.Close()

	scorer := scoring.New(cfg.EscalationWeight)
	lg := ledger.New(ts, scorer)
	eng := predict.New(ts, lg, predict.Config{
		Timeout:            cfg.PredictTimeout,
		CacheTTL:           cfg.PredictCacheTTL,
		OrgIndustries:      cfg.OrgIndustries,
		IncidentIndustries: cfg.PastIncidents,
	})

	promoteCfg := promote.DefaultConfig()
	promoteCfg.Interval = cfg.SweepInterval
	promoteCfg.RecordTimeout = cfg.RecordTimeout
	promoteCfg.DecayRatePerDay = cfg.DecayRate
	promoteCfg.ArchiveFloor = cfg.ArchiveFloor
	controller := promote.New(ts, scorer, promoteCfg)
	controller.Start(ctx)
	defer controller.Stop()

	srv := server.New(ts, lg, eng, cfg)
	srv.StartMetrics(cfg.MetricsAddr)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}
	go func() {
		slog.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
}
