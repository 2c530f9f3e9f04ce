// Package speaker decides who talks next in a discussion.
package speaker

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"

	"github.com/ashureev/classroom-labs/internal/callout"
	"github.com/ashureev/classroom-labs/internal/domain"
)

// ClosingMarker is the literal a teacher utterance carries to close the
// session gracefully.
const ClosingMarker = "See you next time!"

// Termination notices emitted to observers.
const (
	ConcludedNotice  = "The discussion has concluded. See you next time!"
	ConcludingNotice = "The discussion is concluding. Thank you all!"
)

var closingPhrase = regexp.MustCompile(`(?i)\bsee you next time\b`)

// Fallback selects the rule applied when an utterance calls on nobody.
type Fallback string

const (
	// FallbackTeacher hands the turn back to the teacher.
	FallbackTeacher Fallback = "teacher"
	// FallbackRandom picks uniformly among everyone but the last speaker.
	FallbackRandom Fallback = "random"
)

// IsValid reports whether f is a known fallback.
func (f Fallback) IsValid() bool {
	return f == FallbackTeacher || f == FallbackRandom
}

// Decision is the outcome of one selection. Exactly one of Speaker and
// Terminate is meaningful.
type Decision struct {
	Speaker   domain.Participant
	Terminate bool
	// Announcement is the system notice the caller should broadcast.
	Announcement string
	// Stage records how the speaker was found. Fallback picks carry
	// callout.StageDefault.
	Stage callout.Stage
	// Redrawn is set when the no-repeat rule replaced the first pick.
	Redrawn bool
}

// Announce formats a turn announcement.
func Announce(name string) string {
	return fmt.Sprintf("It's %s's turn to speak.", name)
}

// Option configures a [Policy].
type Option func(*Policy)

// WithFallback sets the no-call-out rule. Default: [FallbackTeacher].
func WithFallback(f Fallback) Option {
	return func(p *Policy) {
		p.fallback = f
	}
}

// WithAllowRepeat lets the same participant speak twice in a row.
func WithAllowRepeat(allow bool) Option {
	return func(p *Policy) {
		p.allowRepeat = allow
	}
}

// WithParser sets the call-out parser. Default: a dynamic-mode parser.
func WithParser(parser *callout.Parser) Option {
	return func(p *Policy) {
		p.parser = parser
	}
}

// WithRand sets the random source used by the random fallback. The policy
// serialises access to it.
func WithRand(r *rand.Rand) Option {
	return func(p *Policy) {
		p.rng = r
	}
}

// Policy wraps the call-out parser with termination detection, fallback and
// the no-repeat rule. It holds no per-session state and is safe for
// concurrent use.
type Policy struct {
	parser      *callout.Parser
	fallback    Fallback
	allowRepeat bool

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Policy.
func New(opts ...Option) *Policy {
	p := &Policy{fallback: FallbackTeacher}
	for _, o := range opts {
		o(p)
	}
	if p.parser == nil {
		p.parser = callout.New()
	}
	return p
}

// Fallback returns the configured fallback rule.
func (p *Policy) Fallback() Fallback {
	return p.fallback
}

// SelectNext picks the next speaker from the latest utterance in history.
// lastSpeaker overrides the sender of the latest utterance for the no-repeat
// rule when non-empty.
//
// An empty history always selects the teacher. A teacher utterance carrying
// [ClosingMarker], or any utterance saying "see you next time", terminates the
// session. Re-evaluating a terminal history terminates again.
func (p *Policy) SelectNext(history []domain.Utterance, roster *domain.Roster, lastSpeaker string) Decision {
	if len(history) == 0 {
		return p.speak(roster.Teacher(), callout.StageDefault, false)
	}

	last := history[len(history)-1]
	if last.Sender == domain.TeacherName && strings.Contains(last.Content, ClosingMarker) {
		return Decision{Terminate: true, Announcement: ConcludedNotice}
	}
	if closingPhrase.MatchString(last.Content) {
		return Decision{Terminate: true, Announcement: ConcludingNotice}
	}

	if lastSpeaker == "" {
		lastSpeaker = last.Sender
	}

	m := p.parser.Find(last.Content, roster.Names())
	next, ok := roster.Lookup(m.Name)
	stage := m.Stage
	if !ok || !m.Stage.IsCallOut() {
		next = p.fallbackPick(roster, lastSpeaker)
		stage = callout.StageDefault
	}

	if p.allowRepeat || next.Name != lastSpeaker {
		return p.speak(next, stage, false)
	}
	return p.speak(p.redraw(roster, lastSpeaker), stage, true)
}

func (p *Policy) speak(next domain.Participant, stage callout.Stage, redrawn bool) Decision {
	return Decision{
		Speaker:      next,
		Announcement: Announce(next.Name),
		Stage:        stage,
		Redrawn:      redrawn,
	}
}

func (p *Policy) fallbackPick(roster *domain.Roster, lastSpeaker string) domain.Participant {
	if p.fallback == FallbackRandom {
		return p.randomPeer(roster, lastSpeaker)
	}
	return roster.Teacher()
}

// redraw replaces a pick that would repeat lastSpeaker.
func (p *Policy) redraw(roster *domain.Roster, lastSpeaker string) domain.Participant {
	if p.fallback == FallbackRandom {
		return p.randomPeer(roster, lastSpeaker)
	}
	order := append([]string{domain.TeacherName, domain.HumanName}, roster.Names()...)
	for _, name := range order {
		if name == lastSpeaker {
			continue
		}
		if next, ok := roster.Lookup(name); ok {
			return next
		}
	}
	return roster.Teacher()
}

func (p *Policy) randomPeer(roster *domain.Roster, lastSpeaker string) domain.Participant {
	var peers []domain.Participant
	for _, participant := range roster.Participants() {
		if participant.Name != lastSpeaker {
			peers = append(peers, participant)
		}
	}
	if len(peers) == 0 {
		return roster.Teacher()
	}
	return peers[p.intN(len(peers))]
}

func (p *Policy) intN(n int) int {
	if p.rng == nil {
		return rand.IntN(n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}
