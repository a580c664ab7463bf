// Package sandboxdomain defines the sandbox abstraction the orchestrator
// drives: create/destroy/checkpoint/restore/exec, independent of whichever
// concrete provider (local process, remote) backs it. Shapes are inferred
// from their usage sites in original_source/supervisor/run_orchestrator.py,
// sandbox_config.py, and vite_manager.py, since the provider-specific
// dataclass bodies were not present in the retrieved source.
package sandboxdomain

import "context"

// NetworkPolicy bounds what a sandbox's processes may reach.
type NetworkPolicy string

const (
	NetworkNone     NetworkPolicy = "none"
	NetworkInternal NetworkPolicy = "internal"
	NetworkFull     NetworkPolicy = "full"
)

// Resources caps a sandbox's resource consumption.
type Resources struct {
	CPUCores  float64
	MemoryMB  int
	DiskMB    int
}

// Config is the input to creating a sandbox: who it's for, where its
// workspace lives, and what it may do. Ported from
// sandbox_config.py's build_sandbox_config.
type Config struct {
	UserID        string
	WorkspaceID   string
	WorkspaceRoot string
	Env           map[string]string
	AllowInternet bool
	Resources     Resources
}

// Handle is the live reference to a created sandbox.
type Handle struct {
	SandboxID string
	Config    Config
}

// Checkpoint is an opaque reference to a saved sandbox filesystem state,
// restorable later via Runner.Restore.
type Checkpoint struct {
	CheckpointID string
	SandboxID    string
	CreatedAt    string
}

// Command is one command to execute inside a sandbox.
type Command struct {
	Args           []string
	TimeoutSeconds int
	Cwd            string
	Env            map[string]string
}

// Result is the outcome of executing a Command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Process is a handle to a long-running background process started inside
// a sandbox (e.g. a dev server), grounded on vite_manager.py's sandbox-mode
// path.
type Process struct {
	ProcessID string
	SandboxID string
	Command   []string
}

// Runner is the provider-agnostic sandbox interface. Concrete providers
// (process-based, remote) implement this; the orchestrator and tool layer
// depend only on it, never on a concrete provider type.
type Runner interface {
	Create(ctx context.Context, cfg Config) (Handle, error)
	Destroy(ctx context.Context, handle Handle) error
	Exec(ctx context.Context, handle Handle, cmd Command) (Result, error)
	Checkpoint(ctx context.Context, handle Handle) (Checkpoint, error)
	Restore(ctx context.Context, handle Handle, cp Checkpoint) error
	StartProcess(ctx context.Context, handle Handle, cmd Command) (Process, error)
	StopProcess(ctx context.Context, handle Handle, proc Process) error
	OpenProxy(ctx context.Context, handle Handle, port int) (string, error)
}
