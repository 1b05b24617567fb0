package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/risk"
	"github.com/finvela/risk-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP scoring API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *engineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/invoices/{invoiceID}", func(r chi.Router) {
		r.Post("/risk-run", handleTriggerRun(env))
		r.Get("/risk-score", handleGetScore(env))
		r.Get("/risk-run", handleRunStatus(env))
		r.Post("/counterfactual", handleCounterfactual(env))
		r.Post("/feedback", handleFeedback(env))
	})

	return r
}

func handleTriggerRun(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID := chi.URLParam(r, "invoiceID")
		err := env.Service.TriggerAsync(r.Context(), invoiceID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]string{
				"status":     "accepted",
				"invoice_id": invoiceID,
			})
		case errors.Is(err, risk.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "risk run already in progress")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "invoice not found")
		default:
			zap.L().Error("trigger run failed", zap.String("invoice_id", invoiceID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

func handleGetScore(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID := chi.URLParam(r, "invoiceID")
		score, err := env.Service.GetScore(r.Context(), invoiceID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, score)
		case errors.Is(err, risk.ErrNotComputed):
			writeError(w, http.StatusNotFound, "risk score not computed")
		default:
			zap.L().Error("get score failed", zap.String("invoice_id", invoiceID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

func handleRunStatus(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID := chi.URLParam(r, "invoiceID")
		state, detail, err := env.Service.RunStatus(r.Context(), invoiceID)
		if err != nil {
			zap.L().Error("run status failed", zap.String("invoice_id", invoiceID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp := map[string]string{"invoice_id": invoiceID, "state": string(state)}
		if detail != "" {
			resp["detail"] = detail
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleCounterfactual(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID := chi.URLParam(r, "invoiceID")
		var req struct {
			Changes []model.LineChange `json:"changes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := env.Simulator.Simulate(r.Context(), invoiceID, req.Changes)
		var valErr *risk.ValidationError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, result)
		case errors.As(err, &valErr):
			writeError(w, http.StatusUnprocessableEntity, valErr.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "invoice not found")
		default:
			zap.L().Error("counterfactual failed", zap.String("invoice_id", invoiceID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

func handleFeedback(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID := chi.URLParam(r, "invoiceID")
		var req struct {
			ConfirmedRisky *bool `json:"confirmed_risky"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConfirmedRisky == nil {
			writeError(w, http.StatusBadRequest, "confirmed_risky is required")
			return
		}

		err := env.Service.Feedback(r.Context(), invoiceID, *req.ConfirmedRisky)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
		case errors.Is(err, risk.ErrNotComputed):
			writeError(w, http.StatusConflict, "risk score not computed yet")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "invoice not found")
		default:
			zap.L().Error("feedback failed", zap.String("invoice_id", invoiceID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
