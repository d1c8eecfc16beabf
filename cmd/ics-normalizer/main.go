package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Info(err.Error())
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC1123Z,
		}),
	))
}

func main() {
	config := NewConfig()
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      config.GetLogLevel(),
			TimeFormat: time.RFC1123Z,
		}),
	))

	fetcher := NewFetcher(config.GetFetchTimeout(), config.GetCacheTTL())
	defer fetcher.Stop()

	muxer := http.NewServeMux()
	muxer.Handle("GET /metrics", promhttp.Handler())
	muxer.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	Calendar(muxer, config, fetcher)

	server := &http.Server{
		Addr:    ":" + config.GetPort(),
		Handler: muxer,
	}

	closeCh := make(chan os.Signal, 1)
	go func() {
		slog.Info("listening", "port", config.GetPort())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("cannot start HTTP server", "error", err)
			closeCh <- syscall.SIGTERM
		}
	}()

	signal.Notify(closeCh, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-closeCh

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
