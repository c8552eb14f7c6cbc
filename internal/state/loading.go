package state

// Phase is the coarse loading phase of the initial data load.
type Phase string

const (
	Idle         Phase = "idle"
	LoadingPhase Phase = "loading"
	Ready        Phase = "ready"
	Failed       Phase = "failed"
)

// Loading tracks the loading phase.
type Loading struct {
	*Provider[Phase]
}

// NewLoading constructs an idle tracker.
func NewLoading() *Loading {
	return &Loading{NewProvider(Idle, nil)}
}

// Begin enters the loading phase unless already ready. A failed load may be
// retried.
func (l *Loading) Begin() Phase {
	return l.Update(func(p Phase) Phase {
		if p == Ready {
			return p
		}
		return LoadingPhase
	})
}

// Done marks the data as ready.
func (l *Loading) Done() Phase {
	return l.Update(func(Phase) Phase { return Ready })
}

// Fail records a failed load. Data that was already ready stays ready.
func (l *Loading) Fail() Phase {
	return l.Update(func(p Phase) Phase {
		if p == Ready {
			return p
		}
		return Failed
	})
}

// Phase returns the current phase.
func (l *Loading) Phase() Phase {
	return l.Get()
}
