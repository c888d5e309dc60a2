// Package domain contains the deployment-provenance verification pipeline.
package domain

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/deployproof/internal/validation"
	"github.com/pendergraft/deployproof/internal/workspace"
)

// Outcome is the terminal classification of a verification run.
type Outcome string

const (
	OutcomeMatch     Outcome = "match"
	OutcomeMismatch  Outcome = "mismatch"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeAmbiguous Outcome = "ambiguous"
	// OutcomeError marks an audit record of a run that failed on infrastructure.
	OutcomeError Outcome = "error"
)

// ExitCode maps the outcome to the process exit status.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeMatch:
		return 0
	case OutcomeMismatch:
		return 1
	case OutcomeNotFound:
		return 2
	case OutcomeAmbiguous:
		return 3
	default:
		return 4
	}
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeMatch, OutcomeMismatch, OutcomeNotFound, OutcomeAmbiguous, OutcomeError:
		return true
	}
	return false
}

// Stage names a pipeline step for failure reporting.
type Stage string

const (
	StageTrace     Stage = "trace"
	StageWorkspace Stage = "workspace"
	StageBuild     Stage = "build"
	StageCompare   Stage = "compare"
)

// StageError reports which stage failed and why.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// VerifyRequest is the request to verify a deployment against its claimed source.
type VerifyRequest struct {
	TxHash     string `json:"txHash"`
	Address    string `json:"address"`
	RPCURL     string `json:"rpcUrl"`
	Repository string `json:"repository,omitempty"`
	Revision   string `json:"revision,omitempty"`
	// SourceDir selects a local checkout instead of cloning Repository.
	SourceDir string `json:"sourceDir,omitempty"`
	Contract  string `json:"contract"`
}

// Target is a validated, immutable verification request.
type Target struct {
	TxHash   common.Hash
	Address  common.Address
	RPCURL   string
	Source   workspace.Source
	Contract string
}

// NewTarget validates req. Failures wrap ErrInvalidRequest.
func NewTarget(req VerifyRequest) (Target, error) {
	invalid := func(err error) (Target, error) {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := validation.ValidateTxHash(req.TxHash); err != nil {
		return invalid(err)
	}
	if err := validation.ValidateAddress(req.Address); err != nil {
		return invalid(err)
	}
	if err := validateRPCURL(req.RPCURL); err != nil {
		return invalid(err)
	}
	if err := validation.ValidateContractName(req.Contract); err != nil {
		return invalid(err)
	}

	src := workspace.Source{Name: req.Contract}
	switch {
	case req.Repository != "" && req.SourceDir != "":
		return invalid(fmt.Errorf("repository and source directory are mutually exclusive"))
	case req.SourceDir != "":
		if req.Revision != "" {
			return invalid(fmt.Errorf("revision requires a repository"))
		}
		src.Dir = filepath.Clean(req.SourceDir)
	case req.Repository != "":
		if err := validation.ValidateRepository(req.Repository); err != nil {
			return invalid(err)
		}
		if err := validation.ValidateRevision(req.Revision); err != nil {
			return invalid(err)
		}
		src.Repository = req.Repository
		src.Revision = req.Revision
	default:
		return invalid(fmt.Errorf("repository or source directory is required"))
	}

	return Target{
		TxHash:   common.HexToHash(req.TxHash),
		Address:  common.HexToAddress(req.Address),
		RPCURL:   req.RPCURL,
		Source:   src,
		Contract: req.Contract,
	}, nil
}

// validateRPCURL accepts HTTP and WebSocket endpoints and IPC socket paths.
func validateRPCURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("rpc url is required")
	}
	if filepath.IsAbs(raw) {
		return nil
	}
	if err := validation.ValidateNetworkEndpoint(raw); err != nil {
		return fmt.Errorf("rpc url: %w", err)
	}
	return nil
}

// VerifyResult is the result of a verification.
type VerifyResult struct {
	ID               string         `json:"id,omitempty"`
	Outcome          Outcome        `json:"outcome"`
	Message          string         `json:"message"`
	TxHash           string         `json:"txHash"`
	Address          string         `json:"address"`
	Contract         string         `json:"contract"`
	Repository       string         `json:"repository,omitempty"`
	Revision         string         `json:"revision,omitempty"`
	ResolvedRevision string         `json:"resolvedRevision,omitempty"`
	Builder          string         `json:"builder,omitempty"`
	ToolchainVersion string         `json:"toolchainVersion,omitempty"`
	Stage            Stage          `json:"stage,omitempty"`
	Error            string         `json:"error,omitempty"`
	Details          *VerifyDetails `json:"details,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	DurationMS       int64          `json:"durationMs"`
	CreatedAt        string         `json:"createdAt,omitempty"`
}

// VerifyDetails contains detailed verification information.
type VerifyDetails struct {
	TracePosition   string `json:"tracePosition,omitempty"`
	CreationMethod  string `json:"creationMethod,omitempty"`
	MetadataMarker  string `json:"metadataMarker,omitempty"`
	OnChainHash     string `json:"onChainHash,omitempty"`
	BuiltHash       string `json:"builtHash,omitempty"`
	OnChainStripped bool   `json:"onChainStripped,omitempty"`
	BuiltStripped   bool   `json:"builtStripped,omitempty"`
	// OnChain and Built are the normalized values, set on mismatch only.
	OnChain string `json:"onChain,omitempty"`
	Built   string `json:"built,omitempty"`
}

// ListFilter contains filter options for listing verifications.
type ListFilter struct {
	Address string
	TxHash  string
	Outcome Outcome
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// ListResult is a page of verification records.
type ListResult struct {
	Data       []VerifyResult `json:"data"`
	HasMore    bool           `json:"hasMore"`
	NextCursor string         `json:"nextCursor,omitempty"`
}
