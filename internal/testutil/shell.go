// Package testutil provides shared fakes and builders for stage and
// orchestrator tests: a scripted shell runner, an in-memory artifact sink,
// and a job-context builder with sensible defaults.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/pipegrid/internal/shell"
)

// Call records one command the fake runner received.
type Call struct {
	Command string
	Opts    shell.Options
}

// Response scripts the outcome of one matching command.
type Response struct {
	Result shell.Result
	Err    error
	// Do runs when the command matches, e.g. to create files a stage
	// expects the command to have produced.
	Do func(call Call)
}

// FakeRunner is a scripted shell.Runner. Commands are matched by substring
// against the registered responses; unmatched commands succeed with empty
// output.
type FakeRunner struct {
	mu        sync.Mutex
	calls     []Call
	responses map[string]Response
}

// NewFakeRunner returns an empty scripted runner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]Response)}
}

// On registers a response for any command containing match.
func (f *FakeRunner) On(match string, resp Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[match] = resp
	return f
}

// Run implements shell.Runner.
func (f *FakeRunner) Run(ctx context.Context, opts shell.Options, command string) (shell.Result, error) {
	if err := ctx.Err(); err != nil {
		return shell.Result{}, err
	}

	call := Call{Command: command, Opts: opts}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	var matched *Response
	for substr, resp := range f.responses {
		if strings.Contains(command, substr) {
			r := resp
			matched = &r
			break
		}
	}
	f.mu.Unlock()

	if matched == nil {
		return shell.Result{}, nil
	}
	if matched.Do != nil {
		matched.Do(call)
	}
	return matched.Result, matched.Err
}

// Calls returns a copy of every command the runner received.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns just the command strings, in order.
func (f *FakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmds := make([]string, len(f.calls))
	for i, c := range f.calls {
		cmds[i] = c.Command
	}
	return cmds
}

// CommandRan reports whether any received command contains substr.
func (f *FakeRunner) CommandRan(substr string) bool {
	for _, c := range f.Commands() {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// String renders the call log for assertion failure messages.
func (f *FakeRunner) String() string {
	return fmt.Sprintf("commands: %v", f.Commands())
}
