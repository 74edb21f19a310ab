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

	"github.com/gin-gonic/gin"
	"github.com/lukebatchelor/coup/service/internal/api"
	"github.com/lukebatchelor/coup/service/internal/auth"
	"github.com/lukebatchelor/coup/service/internal/cache"
	"github.com/lukebatchelor/coup/service/internal/config"
	"github.com/lukebatchelor/coup/service/internal/database"
	"github.com/lukebatchelor/coup/service/internal/game"
	"github.com/lukebatchelor/coup/service/internal/lobby"
	"github.com/lukebatchelor/coup/service/internal/ws"
	log "github.com/sirupsen/logrus"
)

const version = "v0.1.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT)")
	)
	flag.Parse()
	if *showVersion {
		fmt.Printf("coup server %s\n", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("logging: %v", err)
	}
	logger := log.WithField("version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("open snapshot store")
	}
	if store == nil {
		logger.Warn("no snapshot store configured, games will not be persisted")
	}

	var rc *cache.Client
	if cfg.RedisAddr != "" {
		if rc, err = cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SnapshotTTL); err != nil {
			logger.WithError(err).Fatal("connect redis")
		}
		logger.WithField("addr", cfg.RedisAddr).Info("redis connected")
	}

	tokens := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	hub := ws.NewHub(tokens, cfg.AllowedOrigins, logger)
	rooms := lobby.NewManager(hub.Send, game.Options{
		ResolveDelay:   cfg.ResolveDelay,
		ResponseWindow: cfg.ResponseWindow,
		Store:          store,
		Cache:          rc,
		Logger:         logger,
	})
	hub.SetLobby(rooms)
	if store != nil {
		n, err := rooms.Restore(ctx, store, cfg.ResumeWindow)
		if err != nil {
			logger.WithError(err).Fatal("resume running games")
		}
		logger.WithField("games", n).Info("resumed running games")
	}

	gin.SetMode(cfg.GinMode)
	server := &api.Server{
		Rooms:  rooms,
		Tokens: tokens,
		Store:  store,
		Cache:  rc,
		Socket: hub,
		Logger: logger,
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	rooms.Close()
	if store != nil {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("close snapshot store")
		}
	}
	if err := rc.Close(); err != nil {
		logger.WithError(err).Warn("close redis")
	}
}

func setupLogging(cfg config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	switch cfg.LogFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return nil
}
