package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"councilboard/internal/config"
	"councilboard/internal/db"
	"councilboard/internal/logger"
	"councilboard/internal/router"
	"councilboard/internal/services"
	"councilboard/internal/workers"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(cfg.Production)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, zlog *zap.Logger) error {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Init(cfg.DatabaseURL, zlog)
	if err != nil {
		return err
	}

	sessionService := services.NewSessionService(gdb, zlog, cfg.SessionTTL)
	issueService := services.NewIssueService(gdb)

	issueLimit := services.RateLimit{Points: cfg.IssueRatePoints, Duration: cfg.IssueRateWindow}
	commentLimit := services.RateLimit{Points: cfg.CommentRatePoints, Duration: cfg.CommentRateWindow}

	var (
		states         services.StateStore
		issueLimiter   services.Limiter
		commentLimiter services.Limiter
	)
	if cfg.RedisURL != "" {
		rdb, err := connectRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		states = services.NewRedisStateStore(rdb)
		issueLimiter = services.NewRedisLimiter(rdb, "issue", issueLimit)
		commentLimiter = services.NewRedisLimiter(rdb, "comment", commentLimit)
		zlog.Info("using redis for oauth state and rate limits")
	} else {
		memIssue := services.NewMemoryLimiter(issueLimit)
		memComment := services.NewMemoryLimiter(commentLimit)
		defer memIssue.Close()
		defer memComment.Close()
		states = services.NewMemoryStateStore()
		issueLimiter = memIssue
		commentLimiter = memComment
		zlog.Warn("REDIS_URL not set: oauth state and rate limits are kept in memory, run a single instance")
	}

	identity := services.NewIdentityGateway(services.IdentityConfig{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		AuthURL:      cfg.OAuthAuthURL,
		TokenURL:     cfg.OAuthTokenURL,
		APIURL:       cfg.OAuthAPIURL,
		RedirectURL:  cfg.SiteURL + "/auth/42/callback",
		CampusID:     cfg.CampusID,
		CursusID:     cfg.CursusID,
	})

	notifier := services.NewNotifier(services.NotifierConfig{
		CouncilURL: cfg.WebhookCouncilURL,
		StudentURL: cfg.WebhookStudentURL,
		SiteURL:    cfg.SiteURL,
		Timeout:    cfg.NotificationTimeout,
	}, issueService, zlog)

	engine := router.New(router.Deps{
		Log:            zlog,
		SessionSecret:  cfg.SessionSecret,
		SecureCookies:  cfg.Production,
		Sessions:       sessionService,
		Identity:       identity,
		States:         states,
		Issues:         issueService,
		Polls:          services.NewPollService(gdb),
		Council:        services.NewCouncilService(gdb, cfg.SuperAdminLogin),
		Votes:          services.NewVoteLedger(gdb),
		IssueLimiter:   issueLimiter,
		CommentLimiter: commentLimiter,
		Notifier:       notifier,
		Ping:           func(ctx context.Context) error { return db.Ping(ctx, gdb) },
	})

	cleanup := workers.NewSessionCleanup(sessionService, zlog, time.Hour)
	cleanup.Start()
	defer cleanup.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case sig := <-quit:
		zlog.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("http shutdown", zap.Error(err))
	}
	cleanup.Stop()
	notifier.Wait()
	closeDB(gdb, zlog)
	return nil
}

func connectRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

func closeDB(gdb *gorm.DB, zlog *zap.Logger) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		zlog.Warn("close database", zap.Error(err))
	}
}
