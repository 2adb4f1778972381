package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg := LoadConfig()
	InitLogging(cfg)

	ledger, err := OpenLedger(cfg.DBPath)
	if err != nil {
		logrus.Fatalf("Failed to open ledger: %v", err)
	}
	defer ledger.Close()
	logrus.Infof("Ledger opened at %s", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor := NewMonitor(cfg, ledger)
	monitor.StartPruneScheduler(ctx)

	logrus.Info("Starting ticket review monitor...")
	monitor.Run(ctx)
	logrus.Info("Shutdown complete")
}
