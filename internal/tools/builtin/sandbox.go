package builtin

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"time"
)

// Sandbox abstracts command execution in an isolated environment. The
// shell tool consults one when a call sets read_only: true, to enforce
// that the command cannot touch the filesystem outside opts.WorkDir.
type Sandbox interface {
	// Execute runs a command under the sandbox's isolation policy.
	Execute(ctx context.Context, cmd string, opts SandboxOpts) (string, error)
	// Available returns whether this sandbox backend can enforce isolation
	// on the current host.
	Available() bool
	// Name returns the sandbox backend name.
	Name() string
}

// SandboxOpts configures sandbox execution parameters.
type SandboxOpts struct {
	WorkDir     string
	ReadOnly    bool
	Network     bool
	MemoryLimit string
	TimeLimit   time.Duration
}

// NoopSandbox runs commands directly with no isolation. It is the only
// backend available on a plain host: Available reports false so callers
// that require read-only enforcement know not to trust it.
type NoopSandbox struct{}

// Execute runs the command directly, with no isolation from the host.
func (n *NoopSandbox) Execute(ctx context.Context, cmd string, opts SandboxOpts) (string, error) {
	var c *exec.Cmd
	if runtime.GOOS == "windows" {
		c = exec.CommandContext(ctx, "cmd", "/C", cmd)
	} else {
		c = exec.CommandContext(ctx, "sh", "-c", cmd)
	}
	if opts.WorkDir != "" {
		c.Dir = opts.WorkDir
	}
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out
	err := c.Run()
	return out.String(), err
}

// Available reports false: NoopSandbox cannot enforce ReadOnly or Network
// restrictions, so callers asking for isolation should reject it rather
// than silently run unsandboxed.
func (n *NoopSandbox) Available() bool {
	return false
}

// Name returns the sandbox backend name.
func (n *NoopSandbox) Name() string {
	return "noop"
}
