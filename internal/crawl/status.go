package crawl

// Status represents the lifecycle state of a Request.
type Status string

// Request status values persisted in the request store.
const (
	StatusNew       Status = "new"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusCanceling Status = "canceling"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status can never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal step in the
// request state machine: new → running → {finished | canceling → canceled | failed}.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusNew:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusFinished || next == StatusCanceling || next == StatusFailed
	case StatusCanceling:
		return next == StatusCanceled
	default:
		return false
	}
}
