// Package transport provides HTTP handlers for the verification domain.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/deployproof/internal/chains"
	"github.com/pendergraft/deployproof/internal/validation"
	"github.com/pendergraft/deployproof/internal/verification/domain"
)

// Service defines the verification service interface for HTTP transport.
type Service interface {
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error)
	Get(ctx context.Context, id string) (*domain.VerifyResult, error)
	List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error)
}

// Options configures the handler.
type Options struct {
	// DefaultRPCURL is used when a request names no RPC endpoint.
	DefaultRPCURL string
	// Timeout bounds a single verification run; zero means no limit.
	Timeout time.Duration
	// AllowLocalRepositories accepts file:// repositories from callers.
	AllowLocalRepositories bool
}

// Handler handles HTTP requests for verification.
type Handler struct {
	svc  Service
	opts Options
}

// NewHandler creates a new verification HTTP handler.
func NewHandler(svc Service, opts Options) *Handler {
	return &Handler{svc: svc, opts: opts}
}

// RegisterReadRoutes registers the read-only routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
}

// RegisterWriteRoutes registers the routes that start verification runs.
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/", h.handleVerify)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var req VerifyRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON: "+err.Error())
		return
	}
	// Callers may only point the server at network endpoints; the
	// configured default is trusted.
	if req.RPCURL == "" {
		req.RPCURL = h.opts.DefaultRPCURL
	} else if err := validation.ValidateNetworkEndpoint(req.RPCURL); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "rpcUrl: "+err.Error())
		return
	}
	if req.Repository == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "repository is required")
		return
	}
	if !h.opts.AllowLocalRepositories {
		if err := validation.ValidateRemoteRepository(req.Repository); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}

	ctx := r.Context()
	if h.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.Timeout)
		defer cancel()
	}

	result, err := h.svc.Verify(ctx, req.ToDomain())
	if err != nil {
		writeVerifyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeVerifyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "Verification timed out")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "CANCELLED", "Verification cancelled")
	default:
		status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
		switch {
		case errors.Is(err, chains.ErrRPC):
			status, code = http.StatusBadGateway, "RPC_ERROR"
		case errors.Is(err, chains.ErrDependencyMissing):
			code = "DEPENDENCY_MISSING"
		case errors.Is(err, chains.ErrBuildFailure):
			status, code = http.StatusUnprocessableEntity, "BUILD_FAILED"
		case errors.Is(err, chains.ErrToolchain):
			status, code = http.StatusUnprocessableEntity, "TOOLCHAIN_ERROR"
		case errors.Is(err, chains.ErrMalformedBytecode):
			status, code = http.StatusUnprocessableEntity, "MALFORMED_BYTECODE"
		}
		writeJSON(w, status, ErrorResponse{Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
			Stage:   domain.JoinStages(domain.FailedStages(err)),
		}})
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Verification not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get verification")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	result, err := h.svc.List(r.Context(), domain.ListFilter{
		Address: r.URL.Query().Get("address"),
		TxHash:  r.URL.Query().Get("tx"),
		Outcome: domain.Outcome(r.URL.Query().Get("outcome")),
	}, domain.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list verifications")
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Data: result.Data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
