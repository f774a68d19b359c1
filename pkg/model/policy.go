package model

// DecisionStatus is the outcome of classifying a command.
type DecisionStatus string

const (
	DecisionAllow   DecisionStatus = "allow"
	DecisionConfirm DecisionStatus = "confirm"
	DecisionDeny    DecisionStatus = "deny"
)

// PolicyDecision is the result of evaluating one command. Rule and Reason
// are empty for allow.
type PolicyDecision struct {
	Status DecisionStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Rule   string         `json:"rule,omitempty"`
}

// Allowed reports whether the command may run without confirmation.
func (d PolicyDecision) Allowed() bool { return d.Status == DecisionAllow }
