package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"ot2-calibration/cmd"
	"ot2-calibration/internal/api"
	"ot2-calibration/internal/database"
)

func newServeCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the deployment history over HTTP until interrupted",
		Args:  noArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return a.runServe(c.Context(), nil)
		},
	}
	c.Flags().StringVar(&a.flags.listen, "listen", "", "address to listen on (OT2_HISTORY_LISTEN, default 127.0.0.1:8001)")
	return c
}

func newHistoryRouter(db *gorm.DB) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		api.NewHistoryService(db).AddRoutes(r)
	})
	return r
}

// runServe blocks until ctx is done. When ready is set it receives the bound
// address once the listener is open.
func (a *app) runServe(ctx context.Context, ready chan<- string) error {
	if a.cfg.HistoryDisabled {
		return &cmd.UsageError{Err: errors.New("deployment history is disabled")}
	}

	db, err := database.NewDatabase(a.cfg.DatabaseURL, a.cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	ln, err := net.Listen("tcp", a.cfg.HistoryListen)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           newHistoryRouter(db),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down history server")

		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			slog.Error("history server forced to shutdown", "error", err)
		}
	}()

	slog.Info("history server listening", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr().String()
	}
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("history server stopped")
	return nil
}
