package orchestrator

import (
	"time"

	"claimflow/internal/claim"
)

// EventType names a loop event.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventProposal      EventType = "proposal"
	EventStageObserved EventType = "stage_observed"
	EventRunFinished   EventType = "run_finished"
)

// Event is emitted to listeners as the loop progresses.
type Event struct {
	Type        EventType     `json:"type"`
	RunID       string        `json:"run_id"`
	Iteration   int           `json:"iteration"`
	Stage       string        `json:"stage,omitempty"`
	Thought     string        `json:"thought,omitempty"`
	Observation string        `json:"observation,omitempty"`
	Fallback    bool          `json:"fallback,omitempty"`
	Result      *claim.Result `json:"result,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// EventListener receives loop events. OnEvent is called synchronously from
// the loop goroutine and must not block for long.
type EventListener interface {
	OnEvent(event Event)
}

// ListenerFunc adapts a function to EventListener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(event Event) {
	f(event)
}

type multiListener []EventListener

func (m multiListener) OnEvent(event Event) {
	for _, listener := range m {
		if listener != nil {
			listener.OnEvent(event)
		}
	}
}
