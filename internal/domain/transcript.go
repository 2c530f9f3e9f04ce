package domain

import "time"

// Outcome describes how a discussion session ended.
type Outcome string

const (
	OutcomeActive    Outcome = "active"
	OutcomeConcluded Outcome = "concluded"
	OutcomeMaxRounds Outcome = "max_rounds"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRestarted Outcome = "restarted"
	OutcomeFailed    Outcome = "failed"
)

// Transcript is the archived record of a discussion session.
type Transcript struct {
	ID         string      `json:"id"`
	ClientID   string      `json:"client_id"`
	Kickoff    string      `json:"kickoff"`
	Outcome    Outcome     `json:"outcome"`
	Rounds     int         `json:"rounds"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    *time.Time  `json:"ended_at,omitempty"`
	Utterances []Utterance `json:"utterances,omitempty"`
}

// Duration returns how long the session ran. Active sessions report the time
// elapsed so far.
func (t *Transcript) Duration() time.Duration {
	if t.EndedAt == nil {
		return time.Since(t.StartedAt)
	}
	return t.EndedAt.Sub(t.StartedAt)
}
