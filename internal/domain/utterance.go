package domain

import (
	"slices"
	"time"
)

// Utterance is a single message produced by a participant.
type Utterance struct {
	Sender     string    `json:"sender"`
	Content    string    `json:"content"`
	RoundIndex int       `json:"round_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// History is the append-only ordered log of a session. Entries are never
// mutated or reordered after they are appended.
type History struct {
	entries []Utterance
}

// Append records a new utterance and returns it with its round index set.
func (h *History) Append(sender, content string) Utterance {
	u := Utterance{
		Sender:     sender,
		Content:    content,
		RoundIndex: len(h.entries),
		CreatedAt:  time.Now(),
	}
	h.entries = append(h.entries, u)
	return u
}

// Len returns the number of utterances.
func (h *History) Len() int {
	return len(h.entries)
}

// Last returns the most recent utterance.
func (h *History) Last() (Utterance, bool) {
	if len(h.entries) == 0 {
		return Utterance{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Entries returns a copy of the log in insertion order.
func (h *History) Entries() []Utterance {
	return slices.Clone(h.entries)
}
