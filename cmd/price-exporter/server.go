package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/market-price-exporter/pkg/client"
	"github.com/Sternrassler/market-price-exporter/pkg/export"
	"github.com/Sternrassler/market-price-exporter/pkg/guard"
	"github.com/Sternrassler/market-price-exporter/pkg/logging"
	"github.com/Sternrassler/market-price-exporter/pkg/metrics"
)

// operations is the menu served over HTTP.
type operations interface {
	ExportAll(ctx context.Context) (*export.Report, error)
	ExportSpecific(ctx context.Context, ids []string) (*export.Report, error)
	ListCampaigns(ctx context.Context) (*export.Report, error)
	CheckConnection(ctx context.Context) (*export.Report, error)
}

// menuResponse is the body of every menu endpoint.
type menuResponse struct {
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Report  *export.Report `json:"report,omitempty"`
}

// specificRequest is the optional body of POST /export/specific.
type specificRequest struct {
	OfferIDs []string `json:"offerIds"`
}

func newMux(ops operations, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /campaigns", menuHandler(logger, export.OpCampaigns, func(r *http.Request) (*export.Report, error) {
		return ops.ListCampaigns(r.Context())
	}))
	mux.HandleFunc("POST /check", menuHandler(logger, export.OpCheck, func(r *http.Request) (*export.Report, error) {
		return ops.CheckConnection(r.Context())
	}))
	mux.HandleFunc("POST /export/all", menuHandler(logger, export.OpExportAll, func(r *http.Request) (*export.Report, error) {
		return ops.ExportAll(r.Context())
	}))
	mux.HandleFunc("POST /export/specific", menuHandler(logger, export.OpExportSpecific, func(r *http.Request) (*export.Report, error) {
		var req specificRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return nil, &badRequestError{err: err}
			}
		}
		return ops.ExportSpecific(r.Context(), req.OfferIDs)
	}))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// badRequestError marks a malformed request body.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string {
	return "invalid request body: " + e.err.Error()
}

func (e *badRequestError) Unwrap() error {
	return e.err
}

// statusFor maps an operation error to a response status.
func statusFor(err error) int {
	var badReq *badRequestError
	var apiErr *client.APIError
	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest
	case errors.Is(err, guard.ErrLocked):
		return http.StatusConflict
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func menuHandler(logger zerolog.Logger, op string, run func(r *http.Request) (*export.Report, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := run(r)
		if err != nil {
			logger.Error().Err(err).Str("operation", op).Msg("Menu operation failed")
			writeMenuResponse(w, statusFor(err), menuResponse{Error: "Error: " + err.Error(), Report: report})
			return
		}
		writeMenuResponse(w, http.StatusOK, menuResponse{Message: report.Message(), Report: report})
	}
}

func writeMenuResponse(w http.ResponseWriter, status int, body menuResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// serve runs the HTTP menu until ctx is cancelled.
func serve(ctx context.Context, addr string, ops operations) error {
	logger := logging.NewLogger("server")

	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(ops, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Starting price exporter server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
