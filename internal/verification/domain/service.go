package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/deployproof/internal/chains"
	"github.com/pendergraft/deployproof/internal/chains/evm"
	"github.com/pendergraft/deployproof/internal/observability/metrics"
	"github.com/pendergraft/deployproof/internal/storage"
	"github.com/pendergraft/deployproof/internal/workspace"
)

// Common errors returned by the verification service.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// TraceSource is a trace source bound to one node connection.
type TraceSource interface {
	evm.TraceSource
	Close() error
}

// TraceSourceDialer opens a trace source for an RPC endpoint.
type TraceSourceDialer func(ctx context.Context, rpcURL string) (TraceSource, error)

// RPCDialer dials nodes over JSON-RPC.
func RPCDialer(logger *slog.Logger) TraceSourceDialer {
	return func(ctx context.Context, rpcURL string) (TraceSource, error) {
		return evm.DialTraceSource(ctx, rpcURL, logger)
	}
}

// WorkspacePreparer materializes a source revision on disk.
type WorkspacePreparer interface {
	Prepare(ctx context.Context, src workspace.Source) (*workspace.Workspace, error)
}

// BuilderDetector selects the build tool for a prepared project.
type BuilderDetector interface {
	DetectChainAndBuilder(dir string) (chains.Chain, chains.Builder, error)
}

// VerificationStore defines the audit log operations needed by the service.
type VerificationStore interface {
	CreateVerification(ctx context.Context, v *storage.Verification) error
	GetVerification(ctx context.Context, id string) (*storage.Verification, error)
	ListVerifications(ctx context.Context, filter storage.VerificationFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Verification], error)
}

// Dependencies are the collaborators of the verification service.
// Store may be nil, in which case runs are not recorded.
type Dependencies struct {
	Dial       TraceSourceDialer
	Workspaces WorkspacePreparer
	Builders   BuilderDetector
	Comparator *evm.Comparator
	Store      VerificationStore
	Logger     *slog.Logger
}

type service struct {
	dial       TraceSourceDialer
	workspaces WorkspacePreparer
	builders   BuilderDetector
	comparator *evm.Comparator
	store      VerificationStore
	logger     *slog.Logger
}

// NewService creates a new verification service.
func NewService(deps Dependencies) *service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	comparator := deps.Comparator
	if comparator == nil {
		comparator = evm.NewComparator(nil)
	}
	dial := deps.Dial
	if dial == nil {
		dial = RPCDialer(logger)
	}
	return &service{
		dial:       dial,
		workspaces: deps.Workspaces,
		builders:   deps.Builders,
		comparator: comparator,
		store:      deps.Store,
		logger:     logger.With("component", "verifier"),
	}
}

type traceBranch struct {
	record *evm.CreationRecord
	err    error
}

type buildBranch struct {
	ws      *workspace.Workspace
	builder chains.Builder
	output  *chains.BuildOutput
	err     error
}

// Verify runs the trace and build branches concurrently and compares their
// results. Selection outcomes (not found, ambiguous) are returned as results;
// infrastructure failures are returned as errors and take precedence.
func (s *service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	target, err := NewTarget(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	done := metrics.VerificationStarted()
	defer done()

	var (
		wg    sync.WaitGroup
		trace traceBranch
		build buildBranch
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		trace = s.runTrace(ctx, target)
	}()
	go func() {
		defer wg.Done()
		build = s.runBuild(ctx, target)
	}()
	wg.Wait()

	defer func() {
		if build.ws == nil {
			return
		}
		if err := build.ws.Close(); err != nil {
			s.logger.Warn("removing workspace", "dir", build.ws.Dir, "error", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := s.baseResult(target, build)

	var failures []error
	if trace.err != nil && !isSelectionError(trace.err) {
		failures = append(failures, trace.err)
	}
	if build.err != nil {
		failures = append(failures, build.err)
	}
	if len(failures) > 0 {
		err := errors.Join(failures...)
		s.finish(ctx, result, err, start)
		return nil, err
	}

	switch {
	case errors.Is(trace.err, chains.ErrCreationNotFound):
		result.Outcome = OutcomeNotFound
		result.Message = trace.err.Error()
	case errors.Is(trace.err, chains.ErrAmbiguousCreation):
		result.Outcome = OutcomeAmbiguous
		result.Message = trace.err.Error()
	default:
		if err := s.compare(result, trace.record, build.output); err != nil {
			s.finish(ctx, result, err, start)
			return nil, err
		}
	}

	s.finish(ctx, result, nil, start)
	return result, nil
}

func (s *service) runTrace(ctx context.Context, target Target) traceBranch {
	start := time.Now()
	defer func() { metrics.StageDuration(string(StageTrace), time.Since(start)) }()

	source, err := s.dial(ctx, target.RPCURL)
	if err != nil {
		return traceBranch{err: stageError(ctx, StageTrace, err)}
	}
	defer source.Close()

	traces, err := source.FetchTrace(ctx, target.TxHash)
	if err != nil {
		return traceBranch{err: stageError(ctx, StageTrace, err)}
	}

	record, err := evm.LocateCreation(traces, target.Address)
	if err != nil {
		return traceBranch{err: err}
	}
	s.logger.Debug("located creation",
		"tx", target.TxHash.Hex(),
		"position", record.Entry.Position(),
		"init_code_bytes", len(record.Entry.InitCode),
	)
	return traceBranch{record: record}
}

func (s *service) runBuild(ctx context.Context, target Target) buildBranch {
	var out buildBranch

	start := time.Now()
	ws, err := s.workspaces.Prepare(ctx, target.Source)
	metrics.StageDuration(string(StageWorkspace), time.Since(start))
	if err != nil {
		out.err = stageError(ctx, StageWorkspace, err)
		return out
	}
	out.ws = ws

	start = time.Now()
	defer func() { metrics.StageDuration(string(StageBuild), time.Since(start)) }()

	_, builder, err := s.builders.DetectChainAndBuilder(ws.Dir)
	if err != nil {
		out.err = stageError(ctx, StageBuild, err)
		return out
	}
	out.builder = builder

	output, err := builder.Build(ctx, ws.Dir, target.Contract)
	if err != nil {
		out.err = stageError(ctx, StageBuild, err)
		return out
	}
	out.output = output
	return out
}

func (s *service) compare(result *VerifyResult, record *evm.CreationRecord, output *chains.BuildOutput) error {
	start := time.Now()
	defer func() { metrics.StageDuration(string(StageCompare), time.Since(start)) }()

	cmp, err := s.comparator.Compare(record.InitCode(), output.Bytecode)
	if err != nil {
		return &StageError{Stage: StageCompare, Err: err}
	}

	details := &VerifyDetails{
		TracePosition:   record.Entry.Position(),
		CreationMethod:  record.Entry.CreationMethod,
		MetadataMarker:  s.comparator.Normalizer().Marker(),
		OnChainHash:     keccakHex(cmp.OnChain),
		BuiltHash:       keccakHex(cmp.Built),
		OnChainStripped: cmp.OnChainStripped,
		BuiltStripped:   cmp.BuiltStripped,
	}
	if cmp.Match {
		result.Outcome = OutcomeMatch
		result.Message = "on-chain init code matches the compiled source"
	} else {
		result.Outcome = OutcomeMismatch
		result.Message = "on-chain init code differs from the compiled source"
		details.OnChain = cmp.OnChain
		details.Built = cmp.Built
	}
	result.Details = details
	result.Warnings = evm.OpcodeWarnings(common.FromHex(cmp.OnChain))
	result.Warnings = append(result.Warnings, sectionWarnings(cmp)...)
	return nil
}

// sectionWarnings flags inputs with several metadata markers. Only the code
// before the first one is compared.
func sectionWarnings(cmp *evm.Comparison) []string {
	var warnings []string
	for _, side := range []struct {
		name     string
		sections int
	}{
		{"on-chain", cmp.OnChainSections},
		{"built", cmp.BuiltSections},
	} {
		if side.sections > 1 {
			warnings = append(warnings, fmt.Sprintf(
				"%s init code has %d metadata markers; code after the first one was not compared", side.name, side.sections))
		}
	}
	return warnings
}

func (s *service) baseResult(target Target, build buildBranch) *VerifyResult {
	result := &VerifyResult{
		TxHash:     target.TxHash.Hex(),
		Address:    strings.ToLower(target.Address.Hex()),
		Contract:   target.Contract,
		Repository: target.Source.Repository,
		Revision:   target.Source.Revision,
	}
	if build.ws != nil {
		result.ResolvedRevision = build.ws.ResolvedRevision
	}
	if build.builder != nil {
		result.Builder = build.builder.Name()
	}
	if build.output != nil {
		result.ToolchainVersion = build.output.ToolchainVersion
	}
	return result
}

// finish records metrics and appends the run to the audit log. Store
// failures are logged and never change the result.
func (s *service) finish(ctx context.Context, result *VerifyResult, runErr error, start time.Time) {
	result.DurationMS = time.Since(start).Milliseconds()

	outcome := result.Outcome
	if runErr != nil {
		outcome = OutcomeError
		for _, stage := range FailedStages(runErr) {
			metrics.StageFailure(string(stage))
		}
	}
	metrics.VerificationOutcome(string(outcome))

	if s.store == nil {
		return
	}

	record := toRecord(result)
	record.Outcome = string(outcome)
	if runErr != nil {
		record.Stage = JoinStages(FailedStages(runErr))
		record.Error = runErr.Error()
	}
	if err := s.store.CreateVerification(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Error("recording verification", "tx", result.TxHash, "error", err)
		return
	}
	result.ID = record.ID
	result.CreatedAt = record.CreatedAt
}

// Get returns a recorded verification.
func (s *service) Get(ctx context.Context, id string) (*VerifyResult, error) {
	if s.store == nil {
		return nil, ErrNotFound
	}
	v, err := s.store.GetVerification(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting verification: %w", err)
	}
	result := fromRecord(*v)
	return &result, nil
}

// List returns recorded verifications, newest first.
func (s *service) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	if filter.Outcome != "" && !filter.Outcome.Valid() {
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidRequest, filter.Outcome)
	}
	if s.store == nil {
		return &ListResult{Data: []VerifyResult{}}, nil
	}

	page, err := s.store.ListVerifications(ctx, storage.VerificationFilter{
		Address: filter.Address,
		TxHash:  filter.TxHash,
		Outcome: string(filter.Outcome),
	}, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("listing verifications: %w", err)
	}

	data := make([]VerifyResult, 0, len(page.Data))
	for _, v := range page.Data {
		data = append(data, fromRecord(v))
	}
	return &ListResult{
		Data:       data,
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
	}, nil
}

// stageError tags err with its stage unless the run was cancelled.
func stageError(ctx context.Context, stage Stage, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

func isSelectionError(err error) bool {
	return errors.Is(err, chains.ErrCreationNotFound) || errors.Is(err, chains.ErrAmbiguousCreation)
}

// FailedStages lists the stages named by a possibly joined error.
func FailedStages(err error) []Stage {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var stages []Stage
		for _, e := range joined.Unwrap() {
			stages = append(stages, FailedStages(e)...)
		}
		return stages
	}
	var se *StageError
	if errors.As(err, &se) {
		return []Stage{se.Stage}
	}
	return nil
}

// JoinStages renders stages as a comma-separated list.
func JoinStages(stages []Stage) string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return strings.Join(names, ",")
}

func keccakHex(normalized string) string {
	return crypto.Keccak256Hash(common.FromHex(normalized)).Hex()
}

func toRecord(r *VerifyResult) *storage.Verification {
	v := &storage.Verification{
		TxHash:           r.TxHash,
		Address:          r.Address,
		Repository:       r.Repository,
		Revision:         r.Revision,
		ResolvedRevision: r.ResolvedRevision,
		Contract:         r.Contract,
		Builder:          r.Builder,
		ToolchainVersion: r.ToolchainVersion,
		Outcome:          string(r.Outcome),
		Warnings:         r.Warnings,
		DurationMS:       r.DurationMS,
	}
	if r.Details != nil {
		v.OnChainHash = r.Details.OnChainHash
		v.BuiltHash = r.Details.BuiltHash
	}
	return v
}

func fromRecord(v storage.Verification) VerifyResult {
	r := VerifyResult{
		ID:               v.ID,
		Outcome:          Outcome(v.Outcome),
		TxHash:           v.TxHash,
		Address:          v.Address,
		Contract:         v.Contract,
		Repository:       v.Repository,
		Revision:         v.Revision,
		ResolvedRevision: v.ResolvedRevision,
		Builder:          v.Builder,
		ToolchainVersion: v.ToolchainVersion,
		Stage:            Stage(v.Stage),
		Error:            v.Error,
		Warnings:         v.Warnings,
		DurationMS:       v.DurationMS,
		CreatedAt:        v.CreatedAt,
	}
	if v.OnChainHash != "" || v.BuiltHash != "" {
		r.Details = &VerifyDetails{
			OnChainHash: v.OnChainHash,
			BuiltHash:   v.BuiltHash,
		}
	}
	return r
}
