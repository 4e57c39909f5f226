// Package routes exposes the checkout orchestrator over a small HTTP surface
// for the driver binary: the mobile shell embeds the orchestrator directly,
// this router exists for local development and operations.
package routes

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nmoreno-dev/shopstream-checkout/internal/checkout"
	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/logger"
)

// NewRouter wires the checkout driver endpoints.
func NewRouter(logg *logger.Logger, orch *checkout.Orchestrator, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Get("/session", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, orch.Current())
	})

	r.Route("/checkout", func(r chi.Router) {
		r.Post("/start", func(w http.ResponseWriter, req *http.Request) {
			storeID := req.URL.Query().Get("store_id")
			if storeID == "" {
				writeError(w, pkgerrors.New(pkgerrors.CodeValidation, "store_id is required"))
				return
			}
			if err := orch.Start(req.Context(), storeID); err != nil {
				logg.Warn(req.Context(), "checkout start failed")
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, orch.Current())
		})
		r.Post("/fulfillment/{id}", func(w http.ResponseWriter, req *http.Request) {
			if err := orch.SelectFulfillment(chi.URLParam(req, "id")); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, orch.Current())
		})
		r.Post("/pay", func(w http.ResponseWriter, req *http.Request) {
			if err := orch.Pay(req.Context()); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, orch.Current())
		})
		r.Post("/retry", func(w http.ResponseWriter, req *http.Request) {
			if err := orch.RetryPayment(req.Context()); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, orch.Current())
		})
		r.Post("/cancel", func(w http.ResponseWriter, _ *http.Request) {
			orch.Cancel()
			writeJSON(w, http.StatusOK, orch.Current())
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := pkgerrors.CodeOf(err)
	meta := pkgerrors.MetadataFor(code)
	status := http.StatusInternalServerError
	switch code {
	case pkgerrors.CodeValidation, pkgerrors.CodePrecondition:
		status = http.StatusUnprocessableEntity
	case pkgerrors.CodeTimeout, pkgerrors.CodeDependency:
		status = http.StatusBadGateway
	case pkgerrors.CodeCancelled:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    meta.PublicMessage,
		"detail":     err.Error(),
		"funds_safe": meta.FundsSafe,
	})
}
