package processor

import (
	"context"
	"time"
)

// State is a render job lifecycle state.
type State string

const (
	StateReceived      State = "received"
	StateValidated     State = "validated"
	StateWorkspaceOpen State = "workspace_open"
	StateFetching      State = "fetching"
	StateOverlaying    State = "overlaying"
	StateEncoding      State = "encoding"
	StateConcatenating State = "concatenating"
	StateStreaming     State = "streaming"
	StateClosed        State = "closed"
)

// Event is one state transition of one job. Events for a job arrive in
// order except Encoding events, which may interleave when clips are encoded
// concurrently.
type Event struct {
	JobID string
	State State
	// Previous is the state this transition leaves and Elapsed how long the
	// job spent in it.
	Previous State
	Elapsed  time.Duration
	// Since is the time since the job was received.
	Since time.Duration

	Request NormalizedRequest
	// Slide is the 1-based slide index for Encoding events.
	Slide int
	// Err is set on a failed Closed event.
	Err error
	// OutputBytes is the rendered file size once known.
	OutputBytes int64
}

// Failed reports whether a Closed event ends the job in failure.
func (e Event) Failed() bool { return e.State == StateClosed && e.Err != nil }

// Observer receives job transitions. Implementations must be safe for
// concurrent use and must not block for long: they run on the job's path.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// Observers fans an event out to several observers in order.
type Observers []Observer

func (obs Observers) Observe(ctx context.Context, ev Event) {
	for _, o := range obs {
		if o != nil {
			o.Observe(ctx, ev)
		}
	}
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }
