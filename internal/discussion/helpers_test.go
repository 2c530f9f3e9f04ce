package discussion

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/classroom-labs/internal/domain"
)

func testRoster(t *testing.T) *domain.Roster {
	t.Helper()
	roster, err := domain.NewRoster([]domain.Participant{
		{Name: domain.TeacherName, Role: domain.RoleTeacher},
		{Name: "Alvin", Role: domain.RoleStudent},
		{Name: "Bianca", Role: domain.RoleStudent},
		{Name: domain.HumanName, Role: domain.RoleHuman},
	})
	if err != nil {
		t.Fatalf("NewRoster() error = %v", err)
	}
	return roster
}

type respondCall struct {
	name    string
	kickoff string
	history int
}

// scriptedResponder replays per-participant replies. The last reply of a
// participant repeats once the others are used up.
type scriptedResponder struct {
	mu      sync.Mutex
	replies map[string][]string
	err     error
	block   bool
	panics  bool
	calls   []respondCall
}

func (r *scriptedResponder) Respond(ctx context.Context, p domain.Participant, kickoff string, history []domain.Utterance) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, respondCall{name: p.Name, kickoff: kickoff, history: len(history)})
	block, panics, err := r.block, r.panics, r.err
	r.mu.Unlock()

	if panics {
		panic("responder exploded")
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.replies[p.Name]
	if len(q) == 0 {
		return "", fmt.Errorf("no reply scripted for %s", p.Name)
	}
	if len(q) > 1 {
		r.replies[p.Name] = q[1:]
	}
	return q[0], nil
}

func (r *scriptedResponder) Calls() []respondCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]respondCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// eventLog records emitted events and signals when a watched system message
// goes out.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	watch  string
	seen   chan struct{}
	once   sync.Once
	err    error
}

func newEventLog(watch string) *eventLog {
	return &eventLog{watch: watch, seen: make(chan struct{})}
}

func (l *eventLog) Emit(_ context.Context, e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.events = append(l.events, e)
	if l.watch != "" && e.Type == EventSystemMessage && e.Content == l.watch {
		l.once.Do(func() { close(l.seen) })
	}
	return nil
}

func (l *eventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) waitSeen(t *testing.T) {
	t.Helper()
	select {
	case <-l.seen:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", l.watch)
	}
}

type fakeRecorder struct {
	// finishDelay stalls FinishDiscussion like a slow database write.
	finishDelay time.Duration

	mu         sync.Mutex
	created    []*domain.Transcript
	utterances []domain.Utterance
	outcome    domain.Outcome
	rounds     int
	finished   int
}

func (r *fakeRecorder) CreateDiscussion(_ context.Context, t *domain.Transcript) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, t)
	return nil
}

func (r *fakeRecorder) AppendUtterance(_ context.Context, _ string, u domain.Utterance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utterances = append(r.utterances, u)
	return nil
}

func (r *fakeRecorder) FinishDiscussion(_ context.Context, _ string, outcome domain.Outcome, rounds int, _ time.Time) error {
	time.Sleep(r.finishDelay)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = outcome
	r.rounds = rounds
	r.finished++
	return nil
}

func senders(history []domain.Utterance) []string {
	out := make([]string, len(history))
	for i, u := range history {
		out[i] = u.Sender
	}
	return out
}
