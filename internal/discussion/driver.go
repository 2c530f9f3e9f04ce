package discussion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/observe"
	"github.com/ashureev/classroom-labs/internal/speaker"
)

// DefaultMaxRounds bounds a discussion that never concludes on its own.
const DefaultMaxRounds = 30

// ErrHumanTimeout is returned when the human does not answer in time.
var ErrHumanTimeout = errors.New("discussion: timed out waiting for the human participant")

// Responder produces the next utterance for an LLM-backed participant.
type Responder interface {
	Respond(ctx context.Context, p domain.Participant, kickoff string, history []domain.Utterance) (string, error)
}

// Emitter delivers outbound events to the observer of a session.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// EmitterFunc adapts a function to [Emitter].
type EmitterFunc func(ctx context.Context, e Event) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Recorder archives sessions. It is satisfied by store.Repository.
type Recorder interface {
	CreateDiscussion(ctx context.Context, t *domain.Transcript) error
	AppendUtterance(ctx context.Context, discussionID string, u domain.Utterance) error
	FinishDiscussion(ctx context.Context, discussionID string, outcome domain.Outcome, rounds int, endedAt time.Time) error
}

// DriverConfig holds the loop limits.
type DriverConfig struct {
	MaxRounds int
	// TurnTimeout bounds one completion. Zero disables it.
	TurnTimeout time.Duration
	// HumanTimeout bounds a wait for human input. Zero waits forever.
	HumanTimeout time.Duration
}

// DriverOption configures a [Driver].
type DriverOption func(*Driver)

// WithRecorder archives every session through r.
func WithRecorder(r Recorder) DriverOption {
	return func(d *Driver) {
		d.recorder = r
	}
}

// WithMetrics records round and session metrics.
func WithMetrics(m *observe.Metrics) DriverOption {
	return func(d *Driver) {
		d.metrics = m
	}
}

// Driver runs the turn-taking loop of a session: one speaker decision per
// round, then either a wait for human input or one completion.
type Driver struct {
	policy    *speaker.Policy
	responder Responder
	cfg       DriverConfig
	recorder  Recorder
	metrics   *observe.Metrics
}

// NewDriver creates a Driver.
func NewDriver(policy *speaker.Policy, responder Responder, cfg DriverConfig, opts ...DriverOption) *Driver {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	d := &Driver{policy: policy, responder: responder, cfg: cfg}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run drives s until it concludes, hits the round limit, is cancelled or
// fails. human yields the human participant's utterances; a closed channel
// means the human left. ctx should come from [Session.Bind] so the cancel
// cause distinguishes terminate from restart.
//
// Run never panics on a collaborator failure: errors inside a round end the
// session with [domain.OutcomeFailed] and are reported through out.
func (d *Driver) Run(ctx context.Context, s *Session, human <-chan string, out Emitter) (domain.Outcome, error) {
	log := slog.With("session_id", s.ID)
	log.Info("Discussion started", "client_id", s.ClientID, "participants", s.Roster.Names())

	d.recordStart(ctx, s)

	outcome, err := d.loop(ctx, s, human, out, log)
	s.end()

	rounds := s.Rounds()
	d.recordFinish(ctx, s, outcome, rounds)
	if d.metrics != nil {
		d.metrics.RecordSession(context.WithoutCancel(ctx), string(outcome))
	}
	log.Info("Discussion ended", "outcome", outcome, "rounds", rounds, "duration", time.Since(s.StartedAt))
	return outcome, err
}

func (d *Driver) loop(ctx context.Context, s *Session, human <-chan string, out Emitter, log *slog.Logger) (domain.Outcome, error) {
	if err := out.Emit(ctx, AgentList(s.Roster.Names())); err != nil {
		return d.interrupted(ctx, s, out, fmt.Errorf("announce participants: %w", err))
	}

	for {
		if ctx.Err() != nil {
			return d.interrupted(ctx, s, out, nil)
		}
		if s.Rounds() >= d.cfg.MaxRounds {
			log.Info("Round limit reached", "max_rounds", d.cfg.MaxRounds)
			s.end()
			d.notify(ctx, out, MaxRoundsNotice)
			return domain.OutcomeMaxRounds, nil
		}

		done, err := d.round(ctx, s, human, out, log)
		if done {
			return domain.OutcomeConcluded, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return d.interrupted(ctx, s, out, nil)
			}
			log.Error("Discussion round failed", "round", s.Rounds(), "error", err)
			s.end()
			d.fail(ctx, out, err)
			return domain.OutcomeFailed, err
		}
	}
}

// round runs one selection and one turn. It reports done when the policy
// terminates the session.
func (d *Driver) round(ctx context.Context, s *Session, human <-chan string, out Emitter, log *slog.Logger) (done bool, err error) {
	index := s.Rounds()
	ctx, span := observe.StartSpan(ctx, "discussion.round", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.Int("round", index),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("round %d panicked: %v", index, r)
		}
	}()

	decision := d.policy.SelectNext(s.History(), s.Roster, s.LastSpeaker())
	if d.metrics != nil {
		stage := decision.Stage.String()
		if decision.Terminate {
			stage = "terminate"
		}
		d.metrics.RecordSelection(ctx, stage, decision.Redrawn)
	}

	if decision.Terminate {
		s.end()
	}
	if err := out.Emit(ctx, SystemMessage(decision.Announcement)); err != nil {
		return false, fmt.Errorf("announce: %w", err)
	}
	if decision.Terminate {
		log.Info("Discussion concluded", "round", index)
		return true, nil
	}

	next := decision.Speaker
	span.SetAttributes(attribute.String("speaker", next.Name), attribute.String("stage", decision.Stage.String()))
	log.Debug("Speaker selected", "round", index, "speaker", next.Name, "stage", decision.Stage, "redrawn", decision.Redrawn)

	content, err := d.takeTurn(ctx, s, next, human)
	if err != nil {
		return false, fmt.Errorf("%s's turn: %w", next.Name, err)
	}

	u := s.Append(next.Name, content)
	d.recordUtterance(ctx, s, u)
	if d.metrics != nil {
		d.metrics.RecordRound(ctx, next.Name, string(next.Role))
	}

	if err := out.Emit(ctx, AgentMessage(next.Name, content)); err != nil {
		return false, fmt.Errorf("deliver utterance: %w", err)
	}
	return false, nil
}

func (d *Driver) takeTurn(ctx context.Context, s *Session, p domain.Participant, human <-chan string) (string, error) {
	if p.IsHuman() {
		return d.awaitHuman(ctx, human)
	}

	if d.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.TurnTimeout)
		defer cancel()
	}
	return d.responder.Respond(ctx, p, s.Kickoff, s.History())
}

func (d *Driver) awaitHuman(ctx context.Context, human <-chan string) (string, error) {
	var timeout <-chan time.Time
	if d.cfg.HumanTimeout > 0 {
		timer := time.NewTimer(d.cfg.HumanTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return "", context.Cause(ctx)
		case <-timeout:
			return "", ErrHumanTimeout
		case text, ok := <-human:
			if !ok {
				return "", ErrConnectionClosed
			}
			if text = strings.TrimSpace(text); text != "" {
				return text, nil
			}
		}
	}
}

// interrupted maps the cancel cause to an outcome and tells the observer.
func (d *Driver) interrupted(ctx context.Context, s *Session, out Emitter, err error) (domain.Outcome, error) {
	s.end()
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrRestartRequested):
		return domain.OutcomeRestarted, nil
	case errors.Is(cause, ErrTerminated):
		d.notify(ctx, out, TerminatedNotice)
		return domain.OutcomeCancelled, nil
	case cause != nil:
		return domain.OutcomeCancelled, nil
	}
	return domain.OutcomeFailed, err
}

func (d *Driver) notify(ctx context.Context, out Emitter, text string) {
	if err := out.Emit(context.WithoutCancel(ctx), SystemMessage(text)); err != nil {
		slog.Debug("Failed to send notice", "error", err)
	}
}

func (d *Driver) fail(ctx context.Context, out Emitter, err error) {
	if err := out.Emit(context.WithoutCancel(ctx), ErrorEvent(err.Error())); err != nil {
		slog.Debug("Failed to send error", "error", err)
	}
}

const recordTimeout = 5 * time.Second

func (d *Driver) recordStart(ctx context.Context, s *Session) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	t := &domain.Transcript{
		ID:        s.ID,
		ClientID:  s.ClientID,
		Kickoff:   s.Kickoff,
		Outcome:   domain.OutcomeActive,
		StartedAt: s.StartedAt,
	}
	if err := d.recorder.CreateDiscussion(ctx, t); err != nil {
		slog.Warn("Failed to archive discussion", "session_id", s.ID, "error", err)
	}
}

func (d *Driver) recordUtterance(ctx context.Context, s *Session, u domain.Utterance) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := d.recorder.AppendUtterance(ctx, s.ID, u); err != nil {
		slog.Warn("Failed to archive utterance", "session_id", s.ID, "round", u.RoundIndex, "error", err)
	}
}

func (d *Driver) recordFinish(ctx context.Context, s *Session, outcome domain.Outcome, rounds int) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := d.recorder.FinishDiscussion(ctx, s.ID, outcome, rounds, time.Now()); err != nil {
		slog.Warn("Failed to close archived discussion", "session_id", s.ID, "error", err)
	}
}
