// Package client provides a Go client for the deployproof verification API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a deployproof API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new deployproof client. Verification runs clone and compile
// on the server, so the default timeout is generous.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// VerifyRequest asks the server to verify a deployment.
type VerifyRequest struct {
	TxHash     string `json:"txHash"`
	Address    string `json:"address"`
	RPCURL     string `json:"rpcUrl,omitempty"`
	Repository string `json:"repository"`
	Revision   string `json:"revision,omitempty"`
	Contract   string `json:"contract"`
}

// Verification is a verification result or audit record.
type Verification struct {
	ID               string   `json:"id,omitempty"`
	Outcome          string   `json:"outcome"`
	Message          string   `json:"message"`
	TxHash           string   `json:"txHash"`
	Address          string   `json:"address"`
	Contract         string   `json:"contract"`
	Repository       string   `json:"repository,omitempty"`
	Revision         string   `json:"revision,omitempty"`
	ResolvedRevision string   `json:"resolvedRevision,omitempty"`
	Builder          string   `json:"builder,omitempty"`
	ToolchainVersion string   `json:"toolchainVersion,omitempty"`
	Stage            string   `json:"stage,omitempty"`
	Error            string   `json:"error,omitempty"`
	Details          *Details `json:"details,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	DurationMS       int64    `json:"durationMs"`
	CreatedAt        string   `json:"createdAt,omitempty"`
}

// Details carries the comparison evidence of a verification.
type Details struct {
	TracePosition   string `json:"tracePosition,omitempty"`
	CreationMethod  string `json:"creationMethod,omitempty"`
	MetadataMarker  string `json:"metadataMarker,omitempty"`
	OnChainHash     string `json:"onChainHash,omitempty"`
	BuiltHash       string `json:"builtHash,omitempty"`
	OnChainStripped bool   `json:"onChainStripped,omitempty"`
	BuiltStripped   bool   `json:"builtStripped,omitempty"`
	OnChain         string `json:"onChain,omitempty"`
	Built           string `json:"built,omitempty"`
}

// ListOptions filters and pages a listing.
type ListOptions struct {
	Address string
	TxHash  string
	Outcome string
	Limit   int
	Cursor  string
}

// ListResponse is the response for listing verifications
type ListResponse struct {
	Data       []Verification `json:"data"`
	Pagination Pagination     `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Stage      string `json:"stage,omitempty"`
}

func (e *APIError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s (%s stage): %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Verify runs a verification on the server and waits for its result.
// Mismatch, not-found and ambiguous outcomes are results, not errors.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*Verification, error) {
	var resp Verification
	if err := c.post(ctx, "/api/v1/verifications", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetVerification fetches a recorded verification by ID.
func (c *Client) GetVerification(ctx context.Context, id string) (*Verification, error) {
	var resp Verification
	if err := c.get(ctx, "/api/v1/verifications/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListVerifications lists recorded verifications, newest first.
func (c *Client) ListVerifications(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	q := url.Values{}
	if opts.Address != "" {
		q.Set("address", opts.Address)
	}
	if opts.TxHash != "" {
		q.Set("tx", opts.TxHash)
	}
	if opts.Outcome != "" {
		q.Set("outcome", opts.Outcome)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	path := "/api/v1/verifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: "HTTP_ERROR", Message: resp.Status}
	}
	errResp.Error.StatusCode = resp.StatusCode
	return &errResp.Error
}
