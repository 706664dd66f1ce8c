package session

import "time"

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

// TurnEvent describes one turn for observers. Response, Outcome, Duration and
// Err are only set on TurnFinished.
type TurnEvent struct {
	SessionID    string
	Seq          int
	Input        string
	Response     string
	PromptTokens int
	WindowLen    int
	Duration     time.Duration
	Outcome      Outcome
	Err          error
	ErrClass     string
}

// Observer receives session lifecycle notifications. Calls for one session
// may come from different goroutines; implementations must be safe for
// concurrent use.
type Observer interface {
	SessionStarted(id string)
	SessionEnded(id string)
	TurnStarted(ev TurnEvent)
	TurnFinished(ev TurnEvent)
}

// Observers fans notifications out to each member in order.
type Observers []Observer

func (o Observers) SessionStarted(id string) {
	for _, ob := range o {
		ob.SessionStarted(id)
	}
}

func (o Observers) SessionEnded(id string) {
	for _, ob := range o {
		ob.SessionEnded(id)
	}
}

func (o Observers) TurnStarted(ev TurnEvent) {
	for _, ob := range o {
		ob.TurnStarted(ev)
	}
}

func (o Observers) TurnFinished(ev TurnEvent) {
	for _, ob := range o {
		ob.TurnFinished(ev)
	}
}
