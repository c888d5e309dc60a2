package chains

import "errors"

// Failure kinds shared by trace retrieval, build providers and comparison.
var (
	// ErrRPC covers transport failures, malformed responses and nodes
	// without trace support. It is never retried here.
	ErrRPC = errors.New("rpc error")

	// ErrCreationNotFound means the trace holds no successful creation of the target.
	ErrCreationNotFound = errors.New("creation not found")

	// ErrAmbiguousCreation means the target was created more than once in one trace.
	ErrAmbiguousCreation = errors.New("ambiguous creation")

	ErrDependencyMissing = errors.New("dependency missing")
	ErrBuildFailure      = errors.New("build failure")
	ErrToolchain         = errors.New("toolchain error")

	// ErrMalformedBytecode means a payload is empty, truncated or not hex.
	ErrMalformedBytecode = errors.New("malformed bytecode")
)
