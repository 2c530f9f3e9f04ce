package discussion

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/speaker"
)

func classroomScript() *scriptedResponder {
	return &scriptedResponder{replies: map[string][]string{
		domain.TeacherName: {
			"Welcome to class. Alvin, what is your view?",
			"Great work everyone. See you next time!",
		},
		"Alvin":  {"I like it. Bianca, do you agree?"},
		"Bianca": {"Yes I agree. You, what about you?"},
	}}
}

func TestDriverRunConcludes(t *testing.T) {
	roster := testRoster(t)
	responder := classroomScript()
	recorder := &fakeRecorder{}
	d := NewDriver(speaker.New(), responder, DriverConfig{}, WithRecorder(recorder))

	s := NewSession("client-1", "Today we discuss photosynthesis.", roster)
	human := make(chan string, 1)
	human <- "I think it is fine. Teacher, can you sum up?"
	out := newEventLog("")

	outcome, err := d.Run(s.Bind(context.Background()), s, human, out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome != domain.OutcomeConcluded {
		t.Fatalf("outcome = %q, want %q", outcome, domain.OutcomeConcluded)
	}

	wantSenders := []string{"Teacher", "Alvin", "Bianca", "You", "Teacher"}
	if got := senders(s.History()); !slices.Equal(got, wantSenders) {
		t.Errorf("senders = %v, want %v", got, wantSenders)
	}

	events := out.Events()
	if events[0].Type != EventAgentList {
		t.Fatalf("first event = %+v, want agent_list", events[0])
	}
	if names, ok := events[0].Content.([]string); !ok || !slices.Equal(names, roster.Names()) {
		t.Errorf("agent_list content = %v, want %v", events[0].Content, roster.Names())
	}

	var announcements []string
	var messages []string
	for _, e := range events[1:] {
		switch e.Type {
		case EventSystemMessage:
			announcements = append(announcements, e.Content.(string))
		case EventAgentMessage:
			messages = append(messages, e.Agent)
		}
	}
	wantAnnouncements := []string{
		speaker.Announce("Teacher"),
		speaker.Announce("Alvin"),
		speaker.Announce("Bianca"),
		speaker.Announce("You"),
		speaker.Announce("Teacher"),
		speaker.ConcludedNotice,
	}
	if !slices.Equal(announcements, wantAnnouncements) {
		t.Errorf("announcements = %v, want %v", announcements, wantAnnouncements)
	}
	if !slices.Equal(messages, wantSenders) {
		t.Errorf("agent_message senders = %v, want %v", messages, wantSenders)
	}

	for _, c := range responder.Calls() {
		if c.kickoff != "Today we discuss photosynthesis." {
			t.Errorf("responder kickoff = %q", c.kickoff)
		}
	}

	if len(recorder.created) != 1 || recorder.created[0].ID != s.ID {
		t.Errorf("recorder created = %v, want one transcript for %s", recorder.created, s.ID)
	}
	if len(recorder.utterances) != 5 {
		t.Errorf("recorded utterances = %d, want 5", len(recorder.utterances))
	}
	if recorder.outcome != domain.OutcomeConcluded || recorder.rounds != 5 || recorder.finished != 1 {
		t.Errorf("recorder finish = (%q, %d, %d), want (concluded, 5, 1)", recorder.outcome, recorder.rounds, recorder.finished)
	}
}

func TestDriverMaxRounds(t *testing.T) {
	responder := &scriptedResponder{replies: map[string][]string{
		domain.TeacherName: {"Alvin, what do you think?"},
		"Alvin":            {"Alvin, what do you think?"},
	}}
	d := NewDriver(speaker.New(), responder, DriverConfig{MaxRounds: 4})

	s := NewSession("", "kickoff", testRoster(t))
	out := newEventLog("")

	outcome, err := d.Run(s.Bind(context.Background()), s, make(chan string), out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome != domain.OutcomeMaxRounds {
		t.Fatalf("outcome = %q, want %q", outcome, domain.OutcomeMaxRounds)
	}
	if got, want := senders(s.History()), []string{"Teacher", "Alvin", "Teacher", "Alvin"}; !slices.Equal(got, want) {
		t.Errorf("senders = %v, want %v", got, want)
	}

	events := out.Events()
	last := events[len(events)-1]
	if last.Type != EventSystemMessage || last.Content != MaxRoundsNotice {
		t.Errorf("last event = %+v, want max rounds notice", last)
	}
}

func TestDriverDefaultMaxRounds(t *testing.T) {
	d := NewDriver(speaker.New(), &scriptedResponder{}, DriverConfig{})
	if d.cfg.MaxRounds != DefaultMaxRounds {
		t.Errorf("MaxRounds = %d, want %d", d.cfg.MaxRounds, DefaultMaxRounds)
	}
}

func TestDriverRoundFailures(t *testing.T) {
	tests := []struct {
		name      string
		responder *scriptedResponder
		cfg       DriverConfig
		human     func() chan string
		wantErr   error
	}{
		{
			name:      "completion error",
			responder: &scriptedResponder{err: errors.New("upstream 500")},
		},
		{
			name:      "turn timeout",
			responder: &scriptedResponder{block: true},
			cfg:       DriverConfig{TurnTimeout: 20 * time.Millisecond},
			wantErr:   context.DeadlineExceeded,
		},
		{
			name:      "responder panic",
			responder: &scriptedResponder{panics: true},
		},
		{
			name: "human timeout",
			responder: &scriptedResponder{replies: map[string][]string{
				domain.TeacherName: {"You, what do you think?"},
			}},
			cfg:     DriverConfig{HumanTimeout: 20 * time.Millisecond},
			wantErr: ErrHumanTimeout,
		},
		{
			name: "human left",
			responder: &scriptedResponder{replies: map[string][]string{
				domain.TeacherName: {"You, what do you think?"},
			}},
			human: func() chan string {
				ch := make(chan string)
				close(ch)
				return ch
			},
			wantErr: ErrConnectionClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &fakeRecorder{}
			d := NewDriver(speaker.New(), tt.responder, tt.cfg, WithRecorder(recorder))
			s := NewSession("", "kickoff", testRoster(t))
			human := make(chan string)
			if tt.human != nil {
				human = tt.human()
			}
			out := newEventLog("")

			outcome, err := d.Run(s.Bind(context.Background()), s, human, out)
			if err == nil {
				t.Fatal("Run() error = nil, want failure")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if outcome != domain.OutcomeFailed {
				t.Errorf("outcome = %q, want %q", outcome, domain.OutcomeFailed)
			}

			events := out.Events()
			last := events[len(events)-1]
			if last.Type != EventError || last.Message == "" {
				t.Errorf("last event = %+v, want error event", last)
			}
			if recorder.outcome != domain.OutcomeFailed {
				t.Errorf("recorded outcome = %q, want failed", recorder.outcome)
			}
		})
	}
}

func TestDriverCancelWhileWaitingForHuman(t *testing.T) {
	tests := []struct {
		name        string
		cause       error
		wantOutcome domain.Outcome
		wantNotice  string
	}{
		{"terminate", ErrTerminated, domain.OutcomeCancelled, TerminatedNotice},
		{"restart", ErrRestartRequested, domain.OutcomeRestarted, ""},
		{"connection closed", ErrConnectionClosed, domain.OutcomeCancelled, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responder := &scriptedResponder{replies: map[string][]string{
				domain.TeacherName: {"You, what do you think?"},
			}}
			d := NewDriver(speaker.New(), responder, DriverConfig{})
			s := NewSession("", "kickoff", testRoster(t))
			out := newEventLog(speaker.Announce(domain.HumanName))
			ctx := s.Bind(context.Background())

			type result struct {
				outcome domain.Outcome
				err     error
			}
			done := make(chan result, 1)
			go func() {
				outcome, err := d.Run(ctx, s, make(chan string), out)
				done <- result{outcome, err}
			}()

			out.waitSeen(t)
			s.Cancel(tt.cause)

			var res result
			select {
			case res = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
			if res.err != nil {
				t.Errorf("Run() error = %v, want nil", res.err)
			}
			if res.outcome != tt.wantOutcome {
				t.Errorf("outcome = %q, want %q", res.outcome, tt.wantOutcome)
			}

			events := out.Events()
			last := events[len(events)-1]
			if tt.wantNotice != "" && last.Content != tt.wantNotice {
				t.Errorf("last event = %+v, want %q", last, tt.wantNotice)
			}
			if tt.wantNotice == "" && last.Content != speaker.Announce(domain.HumanName) {
				t.Errorf("last event = %+v, want no notice after the announcement", last)
			}
		})
	}
}

func TestDriverEmitFailure(t *testing.T) {
	d := NewDriver(speaker.New(), classroomScript(), DriverConfig{})
	s := NewSession("", "kickoff", testRoster(t))
	out := newEventLog("")
	out.err = errors.New("socket gone")

	outcome, err := d.Run(s.Bind(context.Background()), s, make(chan string), out)
	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", outcome)
	}
	if err == nil || !strings.Contains(err.Error(), "socket gone") {
		t.Errorf("Run() error = %v, want wrapped emit error", err)
	}
}

func TestDriverIgnoresBlankHumanInput(t *testing.T) {
	responder := &scriptedResponder{replies: map[string][]string{
		domain.TeacherName: {"You, what do you think?", "Thanks. See you next time!"},
	}}
	d := NewDriver(speaker.New(), responder, DriverConfig{})
	s := NewSession("", "kickoff", testRoster(t))

	human := make(chan string, 2)
	human <- "   "
	human <- "Plants need light."

	outcome, err := d.Run(s.Bind(context.Background()), s, human, newEventLog(""))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome != domain.OutcomeConcluded {
		t.Errorf("outcome = %q, want concluded", outcome)
	}
	history := s.History()
	if len(history) != 3 || history[1].Content != "Plants need light." {
		t.Errorf("history = %+v", history)
	}
}

func TestDriverEndsSessionBeforeFinalNotice(t *testing.T) {
	recorder := &fakeRecorder{finishDelay: 50 * time.Millisecond}
	d := NewDriver(speaker.New(), classroomScript(), DriverConfig{}, WithRecorder(recorder))
	s := NewSession("", "kickoff", testRoster(t))
	human := make(chan string, 1)
	human <- "I think it is fine. Teacher, can you sum up?"

	var endedAtNotice bool
	out := EmitterFunc(func(_ context.Context, e Event) error {
		if e.Type == EventSystemMessage && e.Content == speaker.ConcludedNotice {
			select {
			case <-s.Ended():
				endedAtNotice = true
			default:
			}
		}
		return nil
	})

	if outcome, err := d.Run(s.Bind(context.Background()), s, human, out); err != nil || outcome != domain.OutcomeConcluded {
		t.Fatalf("Run() = %q, %v", outcome, err)
	}
	if !endedAtNotice {
		t.Error("session not ended when the concluded notice went out")
	}
}
