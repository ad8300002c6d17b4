package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/timekeeper/internal/config"
	"github.com/ykvlv/timekeeper/internal/domain"
	"github.com/ykvlv/timekeeper/internal/lock"
	"github.com/ykvlv/timekeeper/internal/store"
	"github.com/ykvlv/timekeeper/internal/telegram"
	"github.com/ykvlv/timekeeper/internal/timekeeper"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server
	repo    store.Repo
	router  *telegram.Router
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	tz, err := domain.ValidateTZ(cfg.DefaultTZ)
	if err != nil {
		return nil, err
	}
	cfg.DefaultTZ = tz

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, httpSrv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting timekeeper",
		zap.String("bot", a.bot.Self.UserName),
		zap.String("http", a.cfg.HTTPAddr),
		zap.String("tz", a.cfg.DefaultTZ),
	)

	l, err := lock.Acquire(a.cfg.LockFile)
	if err != nil {
		a.log.Error("acquire lock failed", zap.String("path", a.cfg.LockFile), zap.Error(err))
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			a.log.Warn("release lock failed", zap.Error(err))
		}
	}()
	a.log.Info("lock acquired", zap.String("path", l.Path()))

	// Open the database and run migrations.
	repo, err := store.Open(ctx, a.cfg.DatabaseURI)
	if err != nil {
		a.log.Error("open database failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("database ready")

	if a.cfg.DebugEnabled() {
		a.log.Warn("debug console enabled; anyone addressing the bot can run SQL")
	}
	svc := timekeeper.New(a.repo, a.log, timekeeper.Options{
		DefaultTZ:      a.cfg.DefaultTZ,
		TimesheetLimit: a.cfg.TimesheetLimit,
		Debug:          a.cfg.DebugEnabled(),
	})
	a.router = telegram.NewRouter(a.bot, a.bot.Self.UserName, a.log, svc)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
			a.shutdown()
			return nil

		case upd, ok := <-updCh:
			if !ok {
				a.log.Warn("update channel closed")
				a.shutdown()
				return nil
			}
			a.router.HandleUpdate(ctx, upd)
		}
	}
}

func (a *App) shutdown() {
	a.bot.StopReceivingUpdates()

	// Create a short-lived shutdown context and cancel it immediately after use.
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := a.httpSrv.Shutdown(shCtx)
	cancel()

	if err != nil {
		a.log.Warn("http server shutdown error", zap.Error(err))
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.log.Warn("close database failed", zap.Error(err))
		}
	}
}
