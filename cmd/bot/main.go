package main

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/ykvlv/timekeeper/internal/app"
	"github.com/ykvlv/timekeeper/internal/config"
	"github.com/ykvlv/timekeeper/internal/lock"
	"github.com/ykvlv/timekeeper/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; exit immediately.
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(2)
	}
	// Ensure logger flush; ignore sync error (common on some platforms).
	defer func() { _ = log.Sync() }()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("app init failed", zap.Error(err))
	}

	if err := application.Run(context.Background()); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			// Another instance is serving this data directory.
			log.Error("already running", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Fatal("app run failed", zap.Error(err))
	}
}
