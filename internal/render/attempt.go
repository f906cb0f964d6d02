package render

type State int

const (
	Loading State = iota
	Retrying
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Retrying:
		return "retrying"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attempt is the load state of one grid item. Retry counts the failures
// already retried.
type Attempt struct {
	State State
	Retry int
}

func (a Attempt) Succeed() Attempt {
	return Attempt{State: Loaded, Retry: a.Retry}
}

// Fail moves a Loading attempt to Retrying while retries remain, else to
// Failed.
func (a Attempt) Fail(maxRetries int) Attempt {
	if a.Retry < maxRetries {
		return Attempt{State: Retrying, Retry: a.Retry}
	}
	return Attempt{State: Failed, Retry: a.Retry}
}

// Next starts the following attempt after a Retrying wait.
func (a Attempt) Next() Attempt {
	if a.State != Retrying {
		return a
	}
	return Attempt{State: Loading, Retry: a.Retry + 1}
}
