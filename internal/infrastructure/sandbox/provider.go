// provider.go implements a factory-registry for sandboxdomain.Runner
// providers, matching the pattern in the teacher's
// internal/infrastructure/llm/provider.go (RegisterFactory/CreateProvider
// guarded by a RWMutex, providers self-registering via init()). This is
// what lets a remote sandbox provider be added later without touching the
// orchestrator.
package sandbox

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
	"github.com/choiros/supervisor/internal/infrastructure/config"
)

// Factory builds a sandboxdomain.Runner from the sandbox section of
// Config.
type Factory func(cfg config.SandboxConfig, logger *zap.Logger) (sandboxdomain.Runner, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterFactory registers a sandbox provider under name. Called from
// init() by each provider implementation.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// CreateRunner builds the sandboxdomain.Runner named by cfg.Provider.
func CreateRunner(cfg config.SandboxConfig, logger *zap.Logger) (sandboxdomain.Runner, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no sandbox provider registered for %q", cfg.Provider)
	}
	return f(cfg, logger)
}

func init() {
	RegisterFactory("local", func(cfg config.SandboxConfig, logger *zap.Logger) (sandboxdomain.Runner, error) {
		checkpointDir := cfg.WorkspaceRoot
		if checkpointDir == "" {
			checkpointDir = "."
		}
		return NewProcessRunner(checkpointDir+"/.choir-checkpoints", logger)
	})
}
