package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/priceworks/bountybot/internal/config"
	"github.com/priceworks/bountybot/internal/estimate"
	"github.com/priceworks/bountybot/internal/events"
	"github.com/priceworks/bountybot/internal/gh"
	"github.com/priceworks/bountybot/internal/propagate"
	"github.com/priceworks/bountybot/internal/reconcile"
	"github.com/priceworks/bountybot/internal/server"
)

var (
	serveAddr  string
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Run the webhook server.

Required environment:
  GITHUB_TOKEN           token with repo and org read access

Optional environment:
  WEBHOOK_SECRET         GitHub webhook secret; empty disables signature checks
  ESTIMATOR_API_URL      AI estimation endpoint; empty disables estimation
  ESTIMATOR_API_KEY      key for the estimation endpoint
  BASE_PRICE_MULTIPLIER  fallback price multiplier for standalone estimates (default 1)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	level := slog.LevelInfo
	if serveDebug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return errors.New("GITHUB_TOKEN is required")
	}

	base := 1.0
	if raw := os.Getenv("BASE_PRICE_MULTIPLIER"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid BASE_PRICE_MULTIPLIER %q: %w", raw, err)
		}
		base = parsed
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := gh.NewClient(ctx, token)

	var est reconcile.Estimator
	if url := os.Getenv("ESTIMATOR_API_URL"); url != "" {
		est = estimate.NewClient(url, os.Getenv("ESTIMATOR_API_KEY"))
		log.Info("ai estimation enabled", "url", url)
	} else {
		log.Warn("ESTIMATOR_API_URL not set, ai estimation disabled")
	}

	rec := reconcile.New(client, est, log)
	fetcher := config.Fetcher{Contents: client}
	srv := &server.Server{
		Events: &events.Handler{
			Rec:     rec,
			Prop:    propagate.New(client, rec, log),
			Configs: fetcher,
			Log:     log,
		},
		Est:     est,
		Labels:  client,
		Configs: fetcher,
		Secret:  []byte(os.Getenv("WEBHOOK_SECRET")),
		Base:    base,
		Log:     log,
	}

	httpSrv := &http.Server{
		Addr:              serveAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", serveAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
