// Package toolchaintest provides a scripted toolchain.Runner for tests.
package toolchaintest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pendergraft/deployproof/internal/chains"
	"github.com/pendergraft/deployproof/internal/toolchain"
)

// Call is one recorded invocation.
type Call struct {
	Dir  string
	Name string
	Args []string
}

// String renders the call as a command line.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Response is the scripted outcome of a command.
type Response struct {
	Stdout string
	Stderr string
	Err    error
	// Do runs before the response is returned, e.g. to create files in dir.
	Do func(dir string) error
}

// Runner answers commands from a table keyed by command line prefix.
type Runner struct {
	mu        sync.Mutex
	responses map[string]Response
	missing   map[string]bool
	calls     []Call
}

// NewRunner creates an empty fake runner. Unscripted commands succeed
// with empty output.
func NewRunner() *Runner {
	return &Runner{
		responses: make(map[string]Response),
		missing:   make(map[string]bool),
	}
}

// On scripts the response for commands starting with prefix.
func (r *Runner) On(prefix string, resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[prefix] = resp
	return r
}

// Missing marks tools as not installed.
func (r *Runner) Missing(names ...string) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.missing[n] = true
	}
	return r
}

// Calls returns the recorded invocations.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Commands returns the recorded invocations as command lines.
func (r *Runner) Commands() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// LookPath implements toolchain.Runner.
func (r *Runner) LookPath(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missing[name] {
		return fmt.Errorf("%w: %s not found on PATH", chains.ErrDependencyMissing, name)
	}
	return nil
}

// Run implements toolchain.Runner.
func (r *Runner) Run(ctx context.Context, dir, name string, args ...string) (*toolchain.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.LookPath(name); err != nil {
		return nil, err
	}

	call := Call{Dir: dir, Name: name, Args: args}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	resp, matched := r.match(call.String())
	r.mu.Unlock()

	if !matched {
		return &toolchain.Result{}, nil
	}
	if resp.Do != nil {
		if err := resp.Do(dir); err != nil {
			return nil, err
		}
	}
	return &toolchain.Result{Stdout: []byte(resp.Stdout), Stderr: []byte(resp.Stderr)}, resp.Err
}

// match picks the longest scripted prefix of line.
func (r *Runner) match(line string) (Response, bool) {
	best := -1
	var resp Response
	for prefix, candidate := range r.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > best {
			best = len(prefix)
			resp = candidate
		}
	}
	return resp, best >= 0
}

var _ toolchain.Runner = (*Runner)(nil)
