package update

// State is a state of the update state machine.
type State int

const (
	StateFetch    State = iota // read the current document and version
	StateMutate                // build the new content from the fetched base
	StateCommit                // compare-and-swap against the fetched version
	StateRetry                 // conflict, wait and fetch again (or give up)
	StateDone                  // committed
	StateNotFound              // document is missing
	StateFailed                // store error, not retried
	StateGiveUp                // attempt bound reached
)

// Event is what the store (or the retry schedule) answered in a state.
type Event int

const (
	EventFound     Event = iota // fetch returned the document
	EventMissing                // fetch or commit found no document
	EventMutated                // new content is ready
	EventCommitted              // compare-and-swap succeeded
	EventConflict               // the version changed since the fetch
	EventFailed                 // the store call failed
	EventWaited                 // backoff elapsed, attempts are left
	EventExhausted              // no attempts are left
)

func (s State) String() string {
	switch s {
	case StateFetch:
		return "Fetch"
	case StateMutate:
		return "Mutate"
	case StateCommit:
		return "Commit"
	case StateRetry:
		return "Retry"
	case StateDone:
		return "Done"
	case StateNotFound:
		return "NotFound"
	case StateFailed:
		return "Failed"
	case StateGiveUp:
		return "GiveUp"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state ends an update.
func (s State) Terminal() bool {
	return s >= StateDone
}

// transition returns the state following s when e happens. Events that can not
// happen in s lead to StateFailed.
func transition(s State, e Event) State {
	switch s {
	case StateFetch:
		switch e {
		case EventFound:
			return StateMutate
		case EventMissing:
			return StateNotFound
		}
	case StateMutate:
		if e == EventMutated {
			return StateCommit
		}
	case StateCommit:
		switch e {
		case EventCommitted:
			return StateDone
		case EventConflict:
			return StateRetry
		case EventMissing:
			return StateNotFound
		}
	case StateRetry:
		switch e {
		case EventWaited:
			return StateFetch
		case EventExhausted:
			return StateGiveUp
		}
	default:
		// terminal states absorb every event
		return s
	}
	return StateFailed
}
