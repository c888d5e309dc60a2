package domain

import (
	"context"
	"log/slog"
	"time"
)

// Service is the verification service API.
type Service interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	Get(ctx context.Context, id string) (*VerifyResult, error)
	List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error)
}

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(Service) *loggingMiddleware {
	return func(next Service) *loggingMiddleware {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (m *loggingMiddleware) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	start := time.Now()
	result, err := m.next.Verify(ctx, req)
	outcome := ""
	if result != nil {
		outcome = string(result.Outcome)
	}
	m.logger.Info("Verify",
		"tx", req.TxHash,
		"address", req.Address,
		"contract", req.Contract,
		"repository", req.Repository,
		"outcome", outcome,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) Get(ctx context.Context, id string) (*VerifyResult, error) {
	start := time.Now()
	result, err := m.next.Get(ctx, id)
	m.logger.Debug("Get",
		"id", id,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	start := time.Now()
	result, err := m.next.List(ctx, filter, pagination)
	m.logger.Debug("List",
		"address", filter.Address,
		"outcome", filter.Outcome,
		"limit", pagination.Limit,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}
