// Package tool defines the tool interface the agent loop drives and the
// in-memory registry/policy machinery around it. Directly adapted from the
// teacher's internal/domain/tool/tool.go: same Kind-driven permission model,
// same Registry/PolicyEnforcer split, retargeted at this supervisor's fixed
// tool surface (read_file, write_file, edit_file, bash, git_checkpoint,
// git_status) instead of the teacher's open-ended plugin set.
package tool

import (
	"context"
	"fmt"
	"sync"
)

// Kind classifies what a tool does, driving automatic policy decisions
// (what needs sandboxing, what needs approval in ask mode).
type Kind string

const (
	KindRead    Kind = "read"
	KindEdit    Kind = "edit"
	KindExecute Kind = "execute"
	KindVCS     Kind = "vcs"
)

// MutatorKinds require sandbox execution and count as touching paths for
// verifier-plan scope matching.
var MutatorKinds = map[Kind]bool{
	KindEdit:    true,
	KindExecute: true,
}

// SafeKinds never require user confirmation in ask mode.
var SafeKinds = map[Kind]bool{
	KindRead: true,
	KindVCS:  true,
}

// Tool is one entry in the fixed tool surface the agent loop can call.
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is a tool call's outcome: Output goes back to the model, Display
// is an optional richer rendering for a UI, falling back to Output.
type Result struct {
	Output   string
	Display  string
	Success  bool
	Metadata map[string]any
	Error    string
}

// DisplayOrOutput returns Display if set, else Output.
func (r *Result) DisplayOrOutput() string {
	if r.Display != "" {
		return r.Display
	}
	return r.Output
}

// Definition is the JSON-schema tool description sent to the LLM.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry holds the fixed set of tools available to a run.
type Registry interface {
	Register(t Tool) error
	Get(name string) (Tool, bool)
	List() []Definition
	Has(name string) bool
}

// InMemoryRegistry is the only Registry implementation; the tool surface is
// fixed at process startup, so no remote/dynamic registry is needed.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewInMemoryRegistry builds an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{tools: make(map[string]Tool)}
}

func (r *InMemoryRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *InMemoryRegistry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return defs
}

func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Policy gates which registered tools a run's agent loop may call.
type Policy struct {
	AllowList []string
	DenyList  []string
}

// IsAllowed reports whether toolName may be called under this policy. An
// empty AllowList means "allow anything not denied".
func (p *Policy) IsAllowed(toolName string) bool {
	for _, denied := range p.DenyList {
		if denied == toolName {
			return false
		}
	}
	if len(p.AllowList) == 0 {
		return true
	}
	for _, allowed := range p.AllowList {
		if allowed == toolName {
			return true
		}
	}
	return false
}

// PolicyEnforcer filters a Registry's tool list down to what a Policy
// allows, used to build the per-turn tool definitions sent to the model.
type PolicyEnforcer struct {
	policy   *Policy
	registry Registry
}

// NewPolicyEnforcer pairs a policy with the registry it filters.
func NewPolicyEnforcer(policy *Policy, registry Registry) *PolicyEnforcer {
	return &PolicyEnforcer{policy: policy, registry: registry}
}

// FilteredList returns only the tool definitions the policy allows.
func (e *PolicyEnforcer) FilteredList() []Definition {
	all := e.registry.List()
	filtered := make([]Definition, 0, len(all))
	for _, def := range all {
		if e.policy.IsAllowed(def.Name) {
			filtered = append(filtered, def)
		}
	}
	return filtered
}

// CanExecute reports whether toolName is allowed under the enforcer's
// policy.
func (e *PolicyEnforcer) CanExecute(toolName string) bool {
	return e.policy.IsAllowed(toolName)
}
