package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ghostzpy/truco-server/internal/account"
	accountrepo "github.com/ghostzpy/truco-server/internal/account/repo"
	"github.com/ghostzpy/truco-server/internal/chat"
	"github.com/ghostzpy/truco-server/internal/leaderboard"
	leaderboardrepo "github.com/ghostzpy/truco-server/internal/leaderboard/repo"
	"github.com/ghostzpy/truco-server/internal/notification"
	notificationrepo "github.com/ghostzpy/truco-server/internal/notification/repo"
	"github.com/ghostzpy/truco-server/internal/notifier"
	"github.com/ghostzpy/truco-server/internal/ratelimit"
	"github.com/ghostzpy/truco-server/internal/router"
	"github.com/ghostzpy/truco-server/internal/session"
	"github.com/ghostzpy/truco-server/pkg/cache"
	"github.com/ghostzpy/truco-server/pkg/database"
	"github.com/ghostzpy/truco-server/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting truco-server")

	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 30*time.Second)
	store := accountrepo.NewStore(db)
	if err := store.EnsureSchema(setupCtx); err != nil {
		sugar.Fatalf("ensure account schema: %v", err)
	}
	notices := notificationrepo.NewRepo(db)
	if err := notices.EnsureTable(setupCtx); err != nil {
		sugar.Fatalf("ensure notification table: %v", err)
	}
	cancelSetup()

	sessions, err := session.NewService(session.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("session: %v (set JWT_SECRET)", err)
	}

	var limiter ratelimit.Limiter = ratelimit.Noop{}
	var boardCache leaderboard.Cacher
	if cfg := cache.ConfigFromEnv(); cfg.Enabled() {
		rc := cache.New(cfg)
		defer rc.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rc.Ping(pingCtx); err != nil {
			sugar.Warnw("redis unreachable, continuing; limiter fails open", "err", err)
		}
		cancel()
		limiter = ratelimit.NewRedisLimiter(rc, ratelimit.ConfigFromEnv())
		boardCache = rc
	} else {
		sugar.Info("REDIS_ADDR not set; rate limiting and leaderboard cache disabled")
	}

	mailCfg := notifier.ConfigFromEnv()
	if mailCfg.Host == "" {
		sugar.Warn("SMTP_HOST not set; emails are logged instead of sent")
	}
	dispatcher := notifier.NewDispatcher(notifier.NewSender(mailCfg, sugar), mailCfg, sugar)

	accountCfg := account.ConfigFromEnv()
	accounts := account.NewService(store, sessions, notifier.NewMailer(dispatcher), sugar, accountCfg).
		WithLimiter(limiter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go account.NewSweeper(store, accountCfg.SweepInterval, sugar).Run(ctx)

	hub := chat.NewHub(sugar)
	go hub.Run(ctx)

	origins := splitList(os.Getenv("CORS_ORIGINS"))
	handler := router.New(router.Deps{
		Logger:        sugar,
		Accounts:      account.NewHandler(accounts, sessions, sugar),
		Notifications: notification.NewHandler(notification.NewService(notices), sugar),
		Leaderboard: leaderboard.NewHandler(
			leaderboard.NewService(leaderboardrepo.NewLeaderboardRepo(db), boardCache, leaderboard.ConfigFromEnv(), sugar),
			sugar,
		),
		Chat:        chat.NewHandler(hub, origins),
		Auth:        sessions.Middleware,
		CORSOrigins: origins,
		Ready: func(r *http.Request) error {
			return db.PingContext(r.Context())
		},
	})

	addr := os.Getenv("APP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if err := dispatcher.Close(doneCtx); err != nil {
		sugar.Warnf("mail queue not drained: %v", err)
	}

	sugar.Info("goodbye")
}

// splitList parses a comma separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
