package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pliu/nwitter/internal/auth"
	"github.com/pliu/nwitter/internal/blob"
	"github.com/pliu/nwitter/internal/cache"
	"github.com/pliu/nwitter/internal/chat"
	"github.com/pliu/nwitter/internal/config"
	"github.com/pliu/nwitter/internal/email"
	"github.com/pliu/nwitter/internal/feed"
	"github.com/pliu/nwitter/internal/handlers"
	"github.com/pliu/nwitter/internal/logger"
	"github.com/pliu/nwitter/internal/metrics"
	"github.com/pliu/nwitter/internal/profile"
	"github.com/pliu/nwitter/internal/session"
	"github.com/pliu/nwitter/internal/social"
	"github.com/pliu/nwitter/internal/store/sqlstore"
	"github.com/pliu/nwitter/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "path to a YAML config file")
	addr       = flag.String("addr", "", "http service address (overrides config)")
	logLevel   = flag.String("log-level", "", "log level (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	m := metrics.New()

	broker := feed.NewBroker(m)
	go broker.Run(ctx)

	var profileCache *cache.ProfileCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		rc := cache.NewRedisCache(rdb)
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		profileCache = cache.NewProfileCache(rc, log)
		go feed.NewRedisRelay(rdb, broker, log).Run(ctx)
		log.Info("redis enabled", zap.String("addr", cfg.Redis.Addr))
	}

	st, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN, broker)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var (
		blobs       blob.Store
		blobHandler http.Handler
	)
	switch cfg.Blob.Kind {
	case "s3":
		s := cfg.Blob.S3
		s3, err := blob.NewS3(blob.S3Config{
			Endpoint:  s.Endpoint,
			Region:    s.Region,
			Bucket:    s.Bucket,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			UseSSL:    s.UseSSL,
			URLExpiry: s.URLExpiry,
		})
		if err != nil {
			return fmt.Errorf("blob store: %w", err)
		}
		blobs = s3
	default:
		dir, err := blob.NewDir(cfg.Blob.Dir, cfg.Blob.PublicURL)
		if err != nil {
			return fmt.Errorf("blob store: %w", err)
		}
		blobs, blobHandler = dir, dir.Handler()
	}

	mailer := email.NewSender(cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.From, log)
	authSvc := auth.NewService(st, mailer, auth.Options{
		Secret:        cfg.Auth.JWTSecret,
		SessionTTL:    cfg.Auth.SessionTTL,
		ResetURL:      cfg.Auth.ResetURL,
		ResetTokenTTL: cfg.Auth.ResetTokenTTL,
	}, log)

	profiles := profile.NewService(st, blobs, profileCache, cfg.Chat.DefaultAvatar, log)
	marker := chat.NewMarker(st, cfg.Retry, m, log)
	chats := chat.NewService(st, blobs, broker, profiles, marker, log)

	mode, err := chat.ParseMode(cfg.Chat.AggregatorMode)
	if err != nil {
		return err
	}
	newAggregator := func() *chat.Aggregator {
		return chat.NewAggregator(st, broker, mode, m, log)
	}
	sessions := session.NewManager(ctx, newAggregator, log)
	cancelWatch := authSvc.Watch(sessions.HandleAuthEvent)
	defer cancelWatch()

	hub := ws.NewHub(chats, sessions, log)
	go hub.Run(ctx)

	router := handlers.NewRouter(handlers.Deps{
		Auth:         authSvc,
		Profiles:     profiles,
		Social:       social.NewService(st, blobs, log),
		Chats:        chats,
		Unread:       chat.NewEvaluator(st, mode, m),
		Hub:          hub,
		Metrics:      m,
		Blobs:        blobHandler,
		Health:       st.Ping,
		SessionTTL:   cfg.Auth.SessionTTL,
		SecureCookie: cfg.Server.SecureCookie,
		RateRPS:      cfg.RateLimit.RPS,
		RateBurst:    cfg.RateLimit.Burst,
		StaticDir:    cfg.Server.StaticDir,
		Log:          log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", cfg.Server.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
