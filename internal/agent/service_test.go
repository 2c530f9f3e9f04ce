package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/llm"
	"github.com/ashureev/classroom-labs/internal/llm/mock"
)

var alvin = domain.Participant{
	Name:    "Alvin",
	Role:    domain.RoleStudent,
	Persona: domain.Persona{SystemPrompt: "You are Alvin."},
}

func history(pairs ...string) []domain.Utterance {
	var h domain.History
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Append(pairs[i], pairs[i+1])
	}
	return h.Entries()
}

func TestRespond(t *testing.T) {
	provider := &mock.Provider{Replies: []string{"Alvin: I think plants breathe at night. Bianca, what do you think?"}}
	svc := NewService(provider, Config{Temperature: 0.7, MaxTokens: 300}, nil)

	got, err := svc.Respond(context.Background(), alvin, "Discuss photosynthesis.",
		history("Teacher", "Today: photosynthesis. Alvin, what do you think?"))
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if want := "I think plants breathe at night. Bianca, what do you think?"; got != want {
		t.Errorf("Respond() = %q, want %q", got, want)
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(calls))
	}
	req := calls[0]
	if req.SystemPrompt != "You are Alvin." {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 300 {
		t.Errorf("Temperature/MaxTokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(req.Messages))
	}
	if req.Messages[1].Content != "Teacher: Today: photosynthesis. Alvin, what do you think?" {
		t.Errorf("Messages[1] = %q", req.Messages[1].Content)
	}
}

func TestRespondErrors(t *testing.T) {
	ctx := context.Background()
	h := history("Teacher", "Alvin, go ahead.")

	t.Run("human", func(t *testing.T) {
		svc := NewService(&mock.Provider{}, Config{}, nil)
		_, err := svc.Respond(ctx, domain.Participant{Name: "You", Role: domain.RoleHuman}, "", h)
		if !errors.Is(err, ErrHumanParticipant) {
			t.Errorf("error = %v, want ErrHumanParticipant", err)
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		boom := errors.New("rate limited")
		svc := NewService(&mock.Provider{Err: boom}, Config{}, nil)
		_, err := svc.Respond(ctx, alvin, "", h)
		if !errors.Is(err, boom) {
			t.Errorf("error = %v, want wrapped provider error", err)
		}
	})

	t.Run("empty reply", func(t *testing.T) {
		svc := NewService(&mock.Provider{Replies: []string{"  Alvin:  "}}, Config{}, nil)
		_, err := svc.Respond(ctx, alvin, "", h)
		if !errors.Is(err, ErrEmptyReply) {
			t.Errorf("error = %v, want ErrEmptyReply", err)
		}
	})
}

func TestBuildMessages(t *testing.T) {
	h := history(
		"Teacher", "Alvin, what is osmosis?",
		"Alvin", "Water moving around. Teacher, is that right?",
		"Teacher", "Partly. You, can you add to that?",
	)

	msgs := BuildMessages("Alvin", "Kick off.", h)
	wantRoles := []string{llm.RoleUser, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("len = %d, want %d", len(msgs), len(wantRoles))
	}
	for i, role := range wantRoles {
		if msgs[i].Role != role {
			t.Errorf("msgs[%d].Role = %q, want %q", i, msgs[i].Role, role)
		}
	}
	if msgs[2].Content != "Water moving around. Teacher, is that right?" {
		t.Errorf("own utterance was prefixed: %q", msgs[2].Content)
	}

	// A trailing own turn gets a cue so the model has something to answer.
	msgs = BuildMessages("Alvin", "", h[:2])
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleUser || !strings.Contains(last.Content, "Alvin's turn") {
		t.Errorf("last message = %+v, want turn cue", last)
	}
}

func TestHistoryWindow(t *testing.T) {
	provider := &mock.Provider{Replies: []string{"ok"}}
	svc := NewService(provider, Config{HistoryWindow: 1}, nil)
	h := history("Teacher", "first", "Bianca", "second")

	if _, err := svc.Respond(context.Background(), alvin, "kick", h); err != nil {
		t.Fatal(err)
	}
	msgs := provider.Calls()[0].Messages
	if len(msgs) != 2 || msgs[1].Content != "Bianca: second" {
		t.Errorf("Messages = %+v, want kickoff plus last utterance", msgs)
	}
}

func TestCleanReply(t *testing.T) {
	tests := map[string]string{
		"  Alvin: hello ":    "hello",
		"**Alvin:** hello":   "hello",
		"Bianca: hello":      "Bianca: hello",
		"hello Alvin: there": "hello Alvin: there",
	}
	for in, want := range tests {
		if got := CleanReply("Alvin", in); got != want {
			t.Errorf("CleanReply(%q) = %q, want %q", in, got, want)
		}
	}
}
