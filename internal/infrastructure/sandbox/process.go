// Package sandbox implements sandboxdomain.Runner as a process-level
// sandbox: command allowlisting, process-group isolation, and timeouts,
// exactly as the teacher's internal/infrastructure/sandbox/process_sandbox.go
// does — not filesystem isolation. Checkpoint/Restore add a tar-snapshot
// layer over the workspace directory, since the teacher's sandbox has no
// equivalent (it runs directly against the real HOME) but the orchestrator
// requires restorable sandbox state on a failed run.
package sandbox

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
)

// AllowedBins is the command allowlist enforced before any exec, matching
// the teacher's DefaultConfig() list.
var AllowedBins = []string{
	"bash", "sh",
	"ls", "cat", "head", "tail", "grep", "awk", "sed",
	"find", "wc", "sort", "uniq", "cut", "tr",
	"cp", "mv", "rm", "mkdir", "touch", "chmod",
	"go", "python", "python3", "node", "npm", "npx",
	"git", "make", "cargo", "rustc",
	"pwd", "whoami", "date", "env", "echo", "printf",
	"curl", "wget",
	"tar", "gzip", "unzip",
}

// CheckpointStore is where tar snapshots of a sandbox workspace are kept.
type CheckpointStore struct {
	root string
}

// NewCheckpointStore roots a checkpoint store at dir, creating it if
// necessary.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint store: %w", err)
	}
	return &CheckpointStore{root: dir}, nil
}

func (c *CheckpointStore) path(id string) string {
	return filepath.Join(c.root, id+".tar.gz")
}

type runningProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// ProcessRunner is the local, process-based sandboxdomain.Runner
// implementation.
type ProcessRunner struct {
	checkpoints *CheckpointStore
	logger      *zap.Logger

	mu        sync.Mutex
	processes map[string]*runningProcess
}

// NewProcessRunner builds a ProcessRunner whose checkpoints live under
// checkpointDir.
func NewProcessRunner(checkpointDir string, logger *zap.Logger) (*ProcessRunner, error) {
	store, err := NewCheckpointStore(checkpointDir)
	if err != nil {
		return nil, err
	}
	return &ProcessRunner{
		checkpoints: store,
		logger:      logger,
		processes:   make(map[string]*runningProcess),
	}, nil
}

// Create ensures the workspace directory exists and returns a handle.
func (r *ProcessRunner) Create(ctx context.Context, cfg sandboxdomain.Config) (sandboxdomain.Handle, error) {
	root := cfg.WorkspaceRoot
	if root == "" {
		root = filepath.Join(os.TempDir(), "choir-sandbox-"+uuid.NewString())
		cfg.WorkspaceRoot = root
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return sandboxdomain.Handle{}, fmt.Errorf("create workspace root: %w", err)
	}
	handle := sandboxdomain.Handle{SandboxID: uuid.NewString(), Config: cfg}
	if r.logger != nil {
		r.logger.Info("sandbox created", zap.String("sandbox_id", handle.SandboxID), zap.String("workspace_root", root))
	}
	return handle, nil
}

// Destroy removes the workspace directory. Callers that set
// config.SandboxConfig.KeepOnExit are expected not to call Destroy.
func (r *ProcessRunner) Destroy(ctx context.Context, handle sandboxdomain.Handle) error {
	if err := os.RemoveAll(handle.Config.WorkspaceRoot); err != nil {
		return fmt.Errorf("destroy sandbox %s: %w", handle.SandboxID, err)
	}
	if r.logger != nil {
		r.logger.Info("sandbox destroyed", zap.String("sandbox_id", handle.SandboxID))
	}
	return nil
}

func isAllowed(command string) bool {
	base := filepath.Base(command)
	for _, allowed := range AllowedBins {
		if allowed == base || allowed == command {
			return true
		}
	}
	return false
}

func buildEnvironment(handle sandboxdomain.Handle, extra map[string]string) []string {
	sysPath := os.Getenv("PATH")
	if sysPath == "" {
		sysPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	home, _ := os.UserHomeDir()
	env := []string{
		"PATH=" + sysPath,
		"HOME=" + home,
		"TMPDIR=" + os.TempDir(),
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
	}
	if handle.Config.AllowInternet {
		if p := os.Getenv("HTTP_PROXY"); p != "" {
			env = append(env, "HTTP_PROXY="+p)
		}
		if p := os.Getenv("HTTPS_PROXY"); p != "" {
			env = append(env, "HTTPS_PROXY="+p)
		}
	}
	for k, v := range handle.Config.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// Exec runs cmd.Args[0] with the remaining args inside the sandbox's
// workspace, enforcing the allowlist and a per-command timeout.
func (r *ProcessRunner) Exec(ctx context.Context, handle sandboxdomain.Handle, cmd sandboxdomain.Command) (sandboxdomain.Result, error) {
	if len(cmd.Args) == 0 {
		return sandboxdomain.Result{}, fmt.Errorf("empty command")
	}
	command := cmd.Args[0]
	args := cmd.Args[1:]

	if !isAllowed(command) {
		return sandboxdomain.Result{}, fmt.Errorf("command %q is not allowed", command)
	}
	cmdPath, err := exec.LookPath(command)
	if err != nil {
		return sandboxdomain.Result{}, fmt.Errorf("command not found: %s", command)
	}

	timeout := time.Duration(cmd.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cwd := cmd.Cwd
	if cwd == "" {
		cwd = handle.Config.WorkspaceRoot
	}

	execCmd := exec.CommandContext(execCtx, cmdPath, args...)
	execCmd.Dir = cwd
	execCmd.Env = buildEnvironment(handle, cmd.Env)
	execCmd.SysProcAttr = sysProcAttr()

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	runErr := execCmd.Run()

	result := sandboxdomain.Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = 124
		return result, nil
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("exec failed: %w", runErr)
	}
	return result, nil
}

// Checkpoint tars the workspace directory into the checkpoint store.
func (r *ProcessRunner) Checkpoint(ctx context.Context, handle sandboxdomain.Handle) (sandboxdomain.Checkpoint, error) {
	id := uuid.NewString()
	dest := r.checkpoints.path(id)

	f, err := os.Create(dest)
	if err != nil {
		return sandboxdomain.Checkpoint{}, fmt.Errorf("create checkpoint file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	root := handle.Config.WorkspaceRoot
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		header, hdrErr := tar.FileInfoHeader(info, "")
		if hdrErr != nil {
			return hdrErr
		}
		header.Name = filepath.ToSlash(rel)
		if writeErr := tw.WriteHeader(header); writeErr != nil {
			return writeErr
		}
		if info.IsDir() {
			return nil
		}
		file, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		defer file.Close()
		_, copyErr := io.Copy(tw, file)
		return copyErr
	})
	if walkErr != nil {
		tw.Close()
		gz.Close()
		return sandboxdomain.Checkpoint{}, fmt.Errorf("tar workspace: %w", walkErr)
	}
	if err := tw.Close(); err != nil {
		return sandboxdomain.Checkpoint{}, fmt.Errorf("close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return sandboxdomain.Checkpoint{}, fmt.Errorf("close gzip writer: %w", err)
	}

	return sandboxdomain.Checkpoint{CheckpointID: id, SandboxID: handle.SandboxID, CreatedAt: time.Now().UTC().Format(time.RFC3339)}, nil
}

// Restore wipes the workspace directory and extracts cp's tarball into it.
func (r *ProcessRunner) Restore(ctx context.Context, handle sandboxdomain.Handle, cp sandboxdomain.Checkpoint) error {
	root := handle.Config.WorkspaceRoot
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("clear workspace before restore: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("recreate workspace: %w", err)
	}

	f, err := os.Open(r.checkpoints.path(cp.CheckpointID))
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		target := filepath.Join(root, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) && target != filepath.Clean(root) {
			return fmt.Errorf("tar entry escapes workspace root: %s", header.Name)
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
	return nil
}

// StartProcess launches a long-running background process (e.g. a dev
// server) inside the sandbox, tracked so StopProcess can terminate it.
func (r *ProcessRunner) StartProcess(ctx context.Context, handle sandboxdomain.Handle, cmd sandboxdomain.Command) (sandboxdomain.Process, error) {
	if len(cmd.Args) == 0 {
		return sandboxdomain.Process{}, fmt.Errorf("empty command")
	}
	if !isAllowed(cmd.Args[0]) {
		return sandboxdomain.Process{}, fmt.Errorf("command %q is not allowed", cmd.Args[0])
	}
	procCtx, cancel := context.WithCancel(ctx)
	execCmd := exec.CommandContext(procCtx, cmd.Args[0], cmd.Args[1:]...)
	execCmd.Dir = handle.Config.WorkspaceRoot
	execCmd.Env = buildEnvironment(handle, cmd.Env)
	execCmd.SysProcAttr = sysProcAttr()

	if err := execCmd.Start(); err != nil {
		cancel()
		return sandboxdomain.Process{}, fmt.Errorf("start process: %w", err)
	}

	id := uuid.NewString()
	r.mu.Lock()
	r.processes[id] = &runningProcess{cmd: execCmd, cancel: cancel}
	r.mu.Unlock()

	return sandboxdomain.Process{ProcessID: id, SandboxID: handle.SandboxID, Command: cmd.Args}, nil
}

// StopProcess terminates a process started with StartProcess.
func (r *ProcessRunner) StopProcess(ctx context.Context, handle sandboxdomain.Handle, proc sandboxdomain.Process) error {
	r.mu.Lock()
	rp, ok := r.processes[proc.ProcessID]
	if ok {
		delete(r.processes, proc.ProcessID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("process %s not tracked", proc.ProcessID)
	}
	rp.cancel()
	_ = rp.cmd.Wait()
	return nil
}

// OpenProxy returns a loopback URL for a port the sandbox's workspace
// exposes. The process sandbox shares the host network namespace, so this
// is a direct localhost address rather than a real proxy.
func (r *ProcessRunner) OpenProxy(ctx context.Context, handle sandboxdomain.Handle, port int) (string, error) {
	return fmt.Sprintf("http://127.0.0.1:%d", port), nil
}

var _ sandboxdomain.Runner = (*ProcessRunner)(nil)
