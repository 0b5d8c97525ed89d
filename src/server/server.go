package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
	"github.com/tidwall/pretty"

	"positionguard/src/handler"
	"positionguard/src/model"
)

// StateSource is the read side of the trading state store.
type StateSource interface {
	Snapshot() *model.TradingState
}

// NewRouter mounts the read-only surface. The journal routes are skipped
// when their repository is nil.
func NewRouter(state StateSource, orders handler.OrderSearcher, exceptions handler.ExceptionFinder) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Get("/positions", func(w http.ResponseWriter, r *http.Request) {
		snap := state.Snapshot()
		if snap == nil {
			http.Error(w, "trading state not loaded", http.StatusServiceUnavailable)
			return
		}
		body, err := json.Marshal(snap)
		if err != nil {
			logger.WithError(err).Error("/positions marshal error")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if r.URL.Query().Get("pretty") != "" {
			body = pretty.Pretty(body)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(body); err != nil {
			logger.WithError(err).Error("/positions write error")
		}
	})

	if orders != nil {
		r.Get("/orders", handler.SearchOrdersHandler(orders))
	}
	if exceptions != nil {
		r.Get("/exceptions", handler.ExceptionsHandler(exceptions))
	}

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// StartServer serves handler until ctx is done, then shuts down gracefully.
func StartServer(ctx context.Context, config *Config, handler http.Handler) error {
	addr := ":" + config.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
