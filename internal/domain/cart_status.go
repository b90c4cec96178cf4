package domain

type CartStatus string

const (
	CartStatusDraft     CartStatus = "draft"
	CartStatusSubmitted CartStatus = "submitted"
)

func (s CartStatus) IsTerminal() bool {
	return s == CartStatusSubmitted
}

// String representation (for logging)
func (s CartStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the lifecycle allows moving from one status to another.
// The only edge is Draft -> Submitted; reopening is done by creating a new Draft.
func CanTransitionTo(from, to CartStatus) bool {
	return from == CartStatusDraft && to == CartStatusSubmitted
}
