package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/filegate/filegate/internal/config"
	"github.com/filegate/filegate/internal/gateway"
	"github.com/filegate/filegate/internal/history"
	"github.com/filegate/filegate/internal/lifecycle"
	"github.com/filegate/filegate/internal/observability"
	"github.com/filegate/filegate/internal/transport"
)

// app bundles the pieces every command needs.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *observability.Metrics
	gw      *gateway.Client
	journal *history.Journal
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := observability.InitLogger(cfg.Development, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		observability.StartMetricsServer(cfg.MetricsAddr, metrics, logger)
	}

	httpClient := transport.NewHTTPClient(logger, metrics)
	gw, err := gateway.NewClient(cfg.BaseURL, httpClient, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: logger, metrics: metrics, gw: gw}

	if cfg.HistoryPath != "" {
		journal, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return nil, err
		}
		a.journal = journal
	}

	return a, nil
}

func (a *app) close() {
	if a.journal != nil {
		a.journal.Close()
	}
	_ = a.log.Sync()
}

func (a *app) settings() lifecycle.Settings {
	return lifecycle.Settings{
		MaxFileSize:    a.cfg.MaxFileSize,
		ProgressTick:   a.cfg.ProgressTick,
		ScanStartDelay: a.cfg.ScanStartDelay,
		PollInterval:   a.cfg.PollInterval,
		PollCeiling:    a.cfg.PollCeiling,
	}
}
