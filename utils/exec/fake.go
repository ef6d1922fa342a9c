package exec

import (
	"fmt"
	"strings"
	"time"
)

// FakeExecutor records every invocation and answers from a scripted handler.
// Tests drive the whole pipeline through it without touching a live OS.
type FakeExecutor struct {
	// Commands holds each invocation as "command arg1 arg2 ...".
	Commands []string
	// Handler answers an invocation; a nil Handler answers "" and success.
	Handler func(command string, arg ...string) (string, error)
	// MissingBinaries makes LookPath fail for the listed names.
	MissingBinaries []string
	// Timeouts holds the bound of every timeout-limited invocation.
	Timeouts []time.Duration
}

func (f *FakeExecutor) LookPath(binary string) (string, error) {
	for _, missing := range f.MissingBinaries {
		if missing == binary {
			return "", fmt.Errorf("exec: %q: executable file not found in $PATH", binary)
		}
	}
	return "/usr/sbin/" + binary, nil
}

func (f *FakeExecutor) record(command string, arg ...string) {
	f.Commands = append(f.Commands, strings.TrimSpace(command+" "+strings.Join(arg, " ")))
}

func (f *FakeExecutor) run(command string, arg ...string) (string, error) {
	f.record(command, arg...)
	if f.Handler == nil {
		return "", nil
	}
	return f.Handler(command, arg...)
}

func (f *FakeExecutor) ExecuteCommandWithOutput(command string, arg ...string) (string, error) {
	return f.run(command, arg...)
}

func (f *FakeExecutor) ExecuteCommandWithCombinedOutput(command string, arg ...string) (string, error) {
	return f.run(command, arg...)
}

func (f *FakeExecutor) ExecuteCommandWithTimeout(timeout time.Duration, command string, arg ...string) (string, error) {
	f.Timeouts = append(f.Timeouts, timeout)
	return f.run(command, arg...)
}

// CalledWith reports whether any recorded invocation starts with prefix.
func (f *FakeExecutor) CalledWith(prefix string) bool {
	for _, c := range f.Commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
