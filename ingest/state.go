package ingest

// State is the phase of an ingest run.
type State int32

const (
	StateInit State = iota
	StateFetchingPage
	StateBatching
	StatePublishing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateFetchingPage:
		return "FETCHING_PAGE"
	case StateBatching:
		return "BATCHING"
	case StatePublishing:
		return "PUBLISHING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
