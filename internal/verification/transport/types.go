// Package transport provides HTTP request/response types for the verification domain.
package transport

import "github.com/pendergraft/deployproof/internal/verification/domain"

// VerifyRequest is the HTTP request body for verifying a deployment.
// Remote callers always name a repository; local directories are a CLI-only
// source.
type VerifyRequest struct {
	TxHash     string `json:"txHash"`
	Address    string `json:"address"`
	RPCURL     string `json:"rpcUrl,omitempty"`
	Repository string `json:"repository"`
	Revision   string `json:"revision,omitempty"`
	Contract   string `json:"contract"`
}

// ToDomain converts VerifyRequest to domain.VerifyRequest.
func (r VerifyRequest) ToDomain() domain.VerifyRequest {
	return domain.VerifyRequest{
		TxHash:     r.TxHash,
		Address:    r.Address,
		RPCURL:     r.RPCURL,
		Repository: r.Repository,
		Revision:   r.Revision,
		Contract:   r.Contract,
	}
}

// ListResponse is a page of verification records.
type ListResponse struct {
	Data       []domain.VerifyResult `json:"data"`
	Pagination Pagination            `json:"pagination"`
}

// Pagination describes the position in a listing.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information. Stage names the failed pipeline
// stages of a verification run.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}
