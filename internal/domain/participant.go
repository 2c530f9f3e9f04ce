// Package domain contains core domain types for the classroom discussion.
package domain

import (
	"errors"
	"fmt"
	"slices"
)

// Reserved participant names. They double as the tokens matched in free text.
const (
	TeacherName = "Teacher"
	HumanName   = "You"
)

// Role is the kind of participant in a discussion.
type Role string

const (
	// RoleTeacher facilitates the discussion and opens every session.
	RoleTeacher Role = "teacher"
	// RoleStudent is an LLM-backed classmate.
	RoleStudent Role = "student"
	// RoleHuman is the proxy for the connected user.
	RoleHuman Role = "human"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleTeacher, RoleStudent, RoleHuman:
		return true
	}
	return false
}

var (
	ErrNoTeacher            = errors.New("roster: exactly one teacher named \"Teacher\" is required")
	ErrNoHuman              = errors.New("roster: exactly one human participant named \"You\" is required")
	ErrDuplicateParticipant = errors.New("roster: duplicate participant name")
	ErrReservedName         = errors.New("roster: reserved participant name")
)

// Persona is the prompt configuration of an agent participant. The core never
// interprets it.
type Persona struct {
	Description  string
	SystemPrompt string
}

// Participant is a named member of a discussion.
type Participant struct {
	Name    string
	Role    Role
	Persona Persona
}

// IsHuman returns true if the participant is the human proxy.
func (p Participant) IsHuman() bool {
	return p.Role == RoleHuman
}

// Roster is the fixed participant registry for a session. It is immutable
// once built and safe to share between goroutines.
type Roster struct {
	participants []Participant
	byName       map[string]int
}

// NewRoster validates participants and builds a roster preserving their order.
func NewRoster(participants []Participant) (*Roster, error) {
	r := &Roster{
		participants: slices.Clone(participants),
		byName:       make(map[string]int, len(participants)),
	}

	var errs []error
	teachers, humans := 0, 0
	for i, p := range r.participants {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("roster: participant %d has no name", i))
			continue
		}
		if !p.Role.IsValid() {
			errs = append(errs, fmt.Errorf("roster: participant %q has invalid role %q", p.Name, p.Role))
		}
		if prev, ok := r.byName[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%w: %q (positions %d and %d)", ErrDuplicateParticipant, p.Name, prev, i))
			continue
		}
		r.byName[p.Name] = i

		switch p.Role {
		case RoleTeacher:
			teachers++
			if p.Name != TeacherName {
				errs = append(errs, fmt.Errorf("%w: teacher must be named %q, got %q", ErrNoTeacher, TeacherName, p.Name))
			}
		case RoleHuman:
			humans++
			if p.Name != HumanName {
				errs = append(errs, fmt.Errorf("%w: human must be named %q, got %q", ErrNoHuman, HumanName, p.Name))
			}
		case RoleStudent:
			if p.Name == TeacherName || p.Name == HumanName {
				errs = append(errs, fmt.Errorf("%w: student cannot be named %q", ErrReservedName, p.Name))
			}
		}
	}
	if teachers != 1 {
		errs = append(errs, ErrNoTeacher)
	}
	if humans != 1 {
		errs = append(errs, ErrNoHuman)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Participants returns a copy of the participants in roster order.
func (r *Roster) Participants() []Participant {
	return slices.Clone(r.participants)
}

// Names returns participant names in roster order.
func (r *Roster) Names() []string {
	names := make([]string, len(r.participants))
	for i, p := range r.participants {
		names[i] = p.Name
	}
	return names
}

// Lookup resolves a name to a participant.
func (r *Roster) Lookup(name string) (Participant, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Participant{}, false
	}
	return r.participants[i], true
}

// Has reports whether name is registered.
func (r *Roster) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Teacher returns the teacher participant.
func (r *Roster) Teacher() Participant {
	p, _ := r.Lookup(TeacherName)
	return p
}

// Human returns the human proxy participant.
func (r *Roster) Human() Participant {
	p, _ := r.Lookup(HumanName)
	return p
}

// Students returns the student participants in roster order.
func (r *Roster) Students() []Participant {
	var out []Participant
	for _, p := range r.participants {
		if p.Role == RoleStudent {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of participants.
func (r *Roster) Len() int {
	return len(r.participants)
}
