package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"putting-live/apps/server/internal/auth"
	"putting-live/apps/server/internal/config"
	"putting-live/apps/server/internal/contest"
	"putting-live/apps/server/internal/gateway"
	"putting-live/apps/server/internal/kv"
	"putting-live/apps/server/internal/store"
	"putting-live/apps/server/internal/telemetry"
)

const sweepInterval = time.Minute

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, SSE and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address override")
	cmd.Flags().String("store", "", "store mode override (memory|sqlite|postgres)")
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "putting-live", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		log.Printf("[Server] Tracing disabled: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), config.Shutdown)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	st, storeMode, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eph, err := kv.Open(cfg, sharedDB(st))
	if err != nil {
		return err
	}

	admin := auth.NewAdminKey(cfg.AdminKeyHash)
	if cfg.AdminKeyHash == "" {
		log.Printf("[Server] ADMIN_KEY_HASH is empty, operator actions will be rejected")
	}

	svc := contest.New(st, eph, contest.Options{
		RosterSize: cfg.RosterSize,
		Countdown:  cfg.DrawCountdown,
		Heartbeat:  cfg.HeartbeatInterval,
	})
	defer svc.Close()
	go svc.Rooms().RunSweeper(ctx, cfg.RoomIdleTTL, sweepInterval)

	mux := http.NewServeMux()
	gateway.New(svc, admin, gateway.Options{
		WriteTimeout: cfg.WriteTimeout,
		Heartbeat:    cfg.HeartbeatInterval,
	}).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           telemetry.Middleware(mux),
		ReadHeaderTimeout: config.ReadHeader,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Store mode: %s", storeMode)
		log.Printf("[Server] Listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("[Server] Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), config.Shutdown)
	defer cancel()
	// Streams never finish on their own; close the rooms so Shutdown can drain.
	svc.Close()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}
