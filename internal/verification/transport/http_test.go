package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployproof/internal/chains"
	"github.com/pendergraft/deployproof/internal/verification/domain"
)

// mockService implements Service for testing
type mockService struct {
	result   *domain.VerifyResult
	err      error
	got      domain.VerifyRequest
	deadline bool
	records  map[string]*domain.VerifyResult
	filter   domain.ListFilter
	page     domain.PaginationParams
}

func newMockService() *mockService {
	return &mockService{
		result: &domain.VerifyResult{
			ID:      "a3c1e6b2-3f4d-4e5a-9b8c-7d6e5f4a3b2c",
			Outcome: domain.OutcomeMatch,
			Message: "on-chain init code matches the compiled source",
		},
		records: make(map[string]*domain.VerifyResult),
	}
}

func (m *mockService) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	m.got = req
	_, m.deadline = ctx.Deadline()
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockService) Get(_ context.Context, id string) (*domain.VerifyResult, error) {
	if r, ok := m.records[id]; ok {
		return r, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockService) List(_ context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error) {
	m.filter = filter
	m.page = pagination
	if filter.Outcome == "bogus" {
		return nil, fmt.Errorf("%w: unknown outcome", domain.ErrInvalidRequest)
	}
	data := make([]domain.VerifyResult, 0, len(m.records))
	for _, r := range m.records {
		data = append(data, *r)
	}
	return &domain.ListResult{Data: data, HasMore: true, NextCursor: "next"}, nil
}

func setupRouter(svc Service, opts Options) *chi.Mux {
	r := chi.NewRouter()
	h := NewHandler(svc, opts)
	r.Route("/verifications", func(r chi.Router) {
		h.RegisterReadRoutes(r)
		h.RegisterWriteRoutes(r)
	})
	return r
}

const validBody = `{
	"txHash": "0x8a1f4c6b1f0f1d7e3c2b6a5d4e3f2a1b0c9d8e7f6a5b4c3d2e1f0a9b8c7d6e5f",
	"address": "0x5fbdb2315678afecb367f032d93f642f64180aa3",
	"rpcUrl": "http://localhost:8545",
	"repository": "https://github.com/example/token.git",
	"revision": "v1.0.0",
	"contract": "Token"
}`

func post(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/verifications/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHandler_Verify(t *testing.T) {
	svc := newMockService()
	router := setupRouter(svc, Options{})

	rec := post(router, validBody)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp domain.VerifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.OutcomeMatch, resp.Outcome)
	assert.Equal(t, "Token", svc.got.Contract)
	assert.Equal(t, "v1.0.0", svc.got.Revision)
	assert.Empty(t, svc.got.SourceDir)
	assert.False(t, svc.deadline)
}

func TestHandler_Verify_MismatchIsNotAnError(t *testing.T) {
	svc := newMockService()
	svc.result = &domain.VerifyResult{
		Outcome: domain.OutcomeMismatch,
		Details: &domain.VerifyDetails{OnChain: "6080", Built: "6081"},
	}
	router := setupRouter(svc, Options{})

	rec := post(router, validBody)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp domain.VerifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.OutcomeMismatch, resp.Outcome)
	require.NotNil(t, resp.Details)
	assert.Equal(t, "6080", resp.Details.OnChain)
	assert.Equal(t, "6081", resp.Details.Built)
}

func TestHandler_Verify_Options(t *testing.T) {
	svc := newMockService()
	router := setupRouter(svc, Options{DefaultRPCURL: "http://node:8545", Timeout: time.Minute})

	rec := post(router, `{"txHash":"0x01","address":"0x02","repository":"https://example.com/r.git","contract":"Token"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://node:8545", svc.got.RPCURL)
	assert.True(t, svc.deadline)
}

func TestHandler_Verify_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: "not json"},
		{name: "source dir rejected", body: `{"sourceDir":"/etc","contract":"Token"}`},
		{name: "missing repository", body: `{"txHash":"0x01","contract":"Token"}`},
		{name: "local repository", body: `{"repository":"file:///srv/private/repo","contract":"Token"}`},
		{name: "ipc rpc url", body: `{"rpcUrl":"/var/run/geth.ipc","repository":"https://example.com/r.git","contract":"Token"}`},
		{name: "non-network rpc url", body: `{"rpcUrl":"unix:///var/run/geth.ipc","repository":"https://example.com/r.git","contract":"Token"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			router := setupRouter(svc, Options{})

			rec := post(router, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec).Code)
			assert.Empty(t, svc.got.Contract, "service must not be called")
		})
	}
}

func TestHandler_Verify_LocalRepositories(t *testing.T) {
	body := `{"txHash":"0x01","address":"0x02","repository":"file:///srv/repo","contract":"Token"}`

	svc := newMockService()
	rec := post(setupRouter(svc, Options{DefaultRPCURL: "/var/run/geth.ipc", AllowLocalRepositories: true}), body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "file:///srv/repo", svc.got.Repository)
	assert.Equal(t, "/var/run/geth.ipc", svc.got.RPCURL, "configured default is trusted")
}

func TestHandler_Verify_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantStage  string
	}{
		{
			name:       "invalid request",
			err:        fmt.Errorf("%w: invalid address", domain.ErrInvalidRequest),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "rpc failure",
			err:        &domain.StageError{Stage: domain.StageTrace, Err: fmt.Errorf("%w: refused", chains.ErrRPC)},
			wantStatus: http.StatusBadGateway,
			wantCode:   "RPC_ERROR",
			wantStage:  "trace",
		},
		{
			name:       "build failure",
			err:        &domain.StageError{Stage: domain.StageBuild, Err: fmt.Errorf("%w: exit 1", chains.ErrBuildFailure)},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "BUILD_FAILED",
			wantStage:  "build",
		},
		{
			name: "joined failures",
			err: errors.Join(
				&domain.StageError{Stage: domain.StageTrace, Err: fmt.Errorf("%w: refused", chains.ErrRPC)},
				&domain.StageError{Stage: domain.StageWorkspace, Err: fmt.Errorf("%w: git", chains.ErrDependencyMissing)},
			),
			wantStatus: http.StatusBadGateway,
			wantCode:   "RPC_ERROR",
			wantStage:  "trace,workspace",
		},
		{
			name:       "dependency missing",
			err:        &domain.StageError{Stage: domain.StageBuild, Err: fmt.Errorf("%w: forge", chains.ErrDependencyMissing)},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "DEPENDENCY_MISSING",
			wantStage:  "build",
		},
		{
			name:       "malformed bytecode",
			err:        &domain.StageError{Stage: domain.StageCompare, Err: fmt.Errorf("%w: empty", chains.ErrMalformedBytecode)},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "MALFORMED_BYTECODE",
			wantStage:  "compare",
		},
		{
			name:       "timeout",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.err = tt.err
			router := setupRouter(svc, Options{})

			rec := post(router, validBody)
			assert.Equal(t, tt.wantStatus, rec.Code)
			detail := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, detail.Code)
			assert.Equal(t, tt.wantStage, detail.Stage)
		})
	}
}

func TestHandler_Verify_BodyTooLarge(t *testing.T) {
	svc := newMockService()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, 16)
			next.ServeHTTP(w, r)
		})
	})
	r.Route("/verifications", NewHandler(svc, Options{}).RegisterWriteRoutes)

	rec := post(r, validBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandler_Get(t *testing.T) {
	svc := newMockService()
	svc.records["abc"] = &domain.VerifyResult{ID: "abc", Outcome: domain.OutcomeNotFound}
	router := setupRouter(svc, Options{})

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/verifications/abc", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp domain.VerifyResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, domain.OutcomeNotFound, resp.Outcome)
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/verifications/nope", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
	})
}

func TestHandler_List(t *testing.T) {
	svc := newMockService()
	svc.records["abc"] = &domain.VerifyResult{ID: "abc", Outcome: domain.OutcomeMatch}
	router := setupRouter(svc, Options{})

	req := httptest.NewRequest("GET", "/verifications/?outcome=match&address=0xabc&limit=500&cursor=c1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
	assert.True(t, resp.Pagination.HasMore)
	assert.Equal(t, "next", resp.Pagination.NextCursor)
	assert.Equal(t, 20, resp.Pagination.Limit, "out of range limits fall back to the default")

	assert.Equal(t, domain.OutcomeMatch, svc.filter.Outcome)
	assert.Equal(t, "0xabc", svc.filter.Address)
	assert.Equal(t, "c1", svc.page.Cursor)

	req = httptest.NewRequest("GET", "/verifications/?outcome=bogus", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
