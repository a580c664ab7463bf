// Package workitem defines the unit of requested work a run executes
// against: a prompt, the verifiers it must satisfy, and the risk tier that
// shapes sandbox privilege and verifier selection.
package workitem

// RiskTier bounds how much privilege a run executing this work item may be
// granted (network access, write scope) and feeds the verifier planner.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Status is the lifecycle of a work item independent of any particular run
// attempt against it.
type Status string

const (
	StatusOpen      Status = "open"
	StatusRunning   Status = "running"
	StatusResolved  Status = "resolved"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// WorkItem is the durable record of something the agent has been asked to
// do. RequiredVerifiers are verifier ids that must run regardless of what
// the planner's scope/mood matching would otherwise select.
type WorkItem struct {
	ID                string
	UserID            string
	Prompt            string
	RiskTier          RiskTier
	RequiredVerifiers []string
	Status            Status
	CreatedAt         string
	UpdatedAt         string
}

// NewWorkItem constructs a work item in the open state. Callers supply the
// id (typically a uuid) and timestamp so construction stays deterministic
// and testable.
func NewWorkItem(id, userID, prompt string, risk RiskTier, requiredVerifiers []string, now string) *WorkItem {
	return &WorkItem{
		ID:                id,
		UserID:            userID,
		Prompt:            prompt,
		RiskTier:          risk,
		RequiredVerifiers: requiredVerifiers,
		Status:            StatusOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
