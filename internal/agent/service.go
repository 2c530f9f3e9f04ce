// Package agent produces utterances for the LLM-backed participants of a
// discussion.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/llm"
	"github.com/ashureev/classroom-labs/internal/observe"
)

var (
	// ErrEmptyReply is returned when the model answers with nothing usable.
	ErrEmptyReply = errors.New("agent: empty reply")
	// ErrHumanParticipant is returned when asked to speak for the human.
	ErrHumanParticipant = errors.New("agent: the human participant has no completion backend")
)

// Config holds completion settings shared by every participant.
type Config struct {
	Temperature float64
	MaxTokens   int
	// HistoryWindow keeps only the most recent utterances in each request.
	// Zero sends the full history.
	HistoryWindow int
}

// Service turns a participant persona and the discussion so far into that
// participant's next utterance.
type Service struct {
	provider llm.Provider
	cfg      Config
	metrics  *observe.Metrics
}

// NewService creates a Service. metrics may be nil.
func NewService(provider llm.Provider, cfg Config, metrics *observe.Metrics) *Service {
	return &Service{provider: provider, cfg: cfg, metrics: metrics}
}

// Respond asks the completion backend to speak as p. kickoff opens the
// conversation the model sees; history follows it in order.
func (s *Service) Respond(ctx context.Context, p domain.Participant, kickoff string, history []domain.Utterance) (string, error) {
	if p.IsHuman() {
		return "", ErrHumanParticipant
	}

	req := llm.CompletionRequest{
		SystemPrompt: p.Persona.SystemPrompt,
		Messages:     BuildMessages(p.Name, kickoff, s.window(history)),
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := s.provider.Complete(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordLLMDuration(ctx, p.Name, time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordLLMError(ctx, p.Name)
		}
		return "", fmt.Errorf("agent: %s completion: %w", p.Name, err)
	}

	reply := CleanReply(p.Name, resp.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	slog.Debug("Agent replied",
		"participant", p.Name,
		"duration", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return reply, nil
}

func (s *Service) window(history []domain.Utterance) []domain.Utterance {
	if s.cfg.HistoryWindow <= 0 || len(history) <= s.cfg.HistoryWindow {
		return history
	}
	return history[len(history)-s.cfg.HistoryWindow:]
}

// BuildMessages renders the discussion from self's point of view: its own
// utterances become assistant turns, everyone else's become user turns
// prefixed with the speaker's name.
func BuildMessages(self, kickoff string, history []domain.Utterance) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	if kickoff != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: kickoff})
	}
	for _, u := range history {
		if u.Sender == self {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: u.Content, Name: self})
			continue
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: u.Sender + ": " + u.Content})
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role == llm.RoleAssistant {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("It's %s's turn to speak.", self)})
	}
	return msgs
}

// CleanReply trims the reply and drops a leading "Name:" label the model
// sometimes echoes from the transcript format.
func CleanReply(self, content string) string {
	content = strings.TrimSpace(content)
	for _, prefix := range []string{self + ":", "**" + self + ":**", "**" + self + "**:"} {
		if rest, ok := strings.CutPrefix(content, prefix); ok {
			content = strings.TrimSpace(rest)
			break
		}
	}
	return content
}
