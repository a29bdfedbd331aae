package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/codecollab/server/internal/api"
	"github.com/codecollab/server/internal/auth"
	"github.com/codecollab/server/internal/config"
	"github.com/codecollab/server/internal/db"
	"github.com/codecollab/server/internal/retention"
	"github.com/codecollab/server/internal/room"
	"github.com/codecollab/server/internal/runner"
	"github.com/codecollab/server/internal/ws"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("initialize database", zap.Error(err))
	}
	defer database.Close()

	tokens := auth.NewTokenManager(cfg.JWTSecret, 7*24*time.Hour)
	authSvc := auth.NewService(database, tokens, logger)

	hub := ws.NewHub(authSvc, logger)
	rooms := room.NewManager(database, hub, logger)
	hub.SetRooms(rooms)

	run := runner.New(cfg.ExecURL, cfg.ExecTimeout)

	pruner := retention.New(database, retention.DefaultConfig(), logger)
	pruner.Start()

	apiHandler := api.New(authSvc, rooms, database, run, hub, logger)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: apiHandler.Router(),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)

		pruner.Stop()
		rooms.Shutdown()
		database.Close()
	}()

	logger.Info("server starting",
		zap.String("port", cfg.Port),
		zap.String("db_path", cfg.DBPath),
		zap.String("exec_url", cfg.ExecURL))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("listen and serve", zap.Error(err))
	}
}
