package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/speaker"
	"gopkg.in/yaml.v3"
)

//go:embed classroom.yaml
var defaultClassroom []byte

// Classroom is the immutable participant setup shared by every session.
type Classroom struct {
	Roster *domain.Roster
	// Kickoff is the opening instruction sent to the teacher when a client
	// starts a discussion without a topic of its own.
	Kickoff string
}

type classroomFile struct {
	Kickoff  string        `yaml:"kickoff"`
	Teacher  personaFile   `yaml:"teacher"`
	Students []studentFile `yaml:"students"`
	Human    personaFile   `yaml:"human"`
}

type personaFile struct {
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
}

type studentFile struct {
	Name        string `yaml:"name"`
	personaFile `yaml:",inline"`
}

// LoadClassroom reads the classroom file at path. An empty path loads the
// embedded default classroom.
func LoadClassroom(path string) (*Classroom, error) {
	if path == "" {
		return DefaultClassroom()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	c, err := LoadClassroomFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return c, nil
}

// DefaultClassroom returns the embedded classroom: a teacher, Alvin, Bianca
// and the human participant.
func DefaultClassroom() (*Classroom, error) {
	return LoadClassroomFromReader(bytes.NewReader(defaultClassroom))
}

// LoadClassroomFromReader decodes a YAML classroom from r, validates it and
// composes the participation guidelines into every agent prompt.
func LoadClassroomFromReader(r io.Reader) (*Classroom, error) {
	var file classroomFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	var errs []error
	if strings.TrimSpace(file.Kickoff) == "" {
		errs = append(errs, errors.New("kickoff is required"))
	}
	if strings.TrimSpace(file.Teacher.SystemPrompt) == "" {
		errs = append(errs, errors.New("teacher.system_prompt is required"))
	}
	for i, s := range file.Students {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("students[%d].name is required", i))
		}
		if strings.TrimSpace(s.SystemPrompt) == "" {
			errs = append(errs, fmt.Errorf("students[%d].system_prompt is required", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	studentNames := make([]string, len(file.Students))
	for i, s := range file.Students {
		studentNames[i] = s.Name
	}

	participants := make([]domain.Participant, 0, len(file.Students)+2)
	participants = append(participants, domain.Participant{
		Name: domain.TeacherName,
		Role: domain.RoleTeacher,
		Persona: domain.Persona{
			Description:  strings.TrimSpace(file.Teacher.Description),
			SystemPrompt: strings.TrimSpace(file.Teacher.SystemPrompt) + "\n\n" + teacherGuidelines(studentNames),
		},
	})
	for _, s := range file.Students {
		participants = append(participants, domain.Participant{
			Name: s.Name,
			Role: domain.RoleStudent,
			Persona: domain.Persona{
				Description:  strings.TrimSpace(s.Description),
				SystemPrompt: strings.TrimSpace(s.SystemPrompt) + "\n\n" + studentGuidelines(s.Name, studentNames),
			},
		})
	}
	participants = append(participants, domain.Participant{
		Name: domain.HumanName,
		Role: domain.RoleHuman,
		Persona: domain.Persona{
			Description:  strings.TrimSpace(file.Human.Description),
			SystemPrompt: strings.TrimSpace(file.Human.SystemPrompt),
		},
	})

	roster, err := domain.NewRoster(participants)
	if err != nil {
		return nil, err
	}
	return &Classroom{Roster: roster, Kickoff: strings.TrimSpace(file.Kickoff)}, nil
}

func teacherGuidelines(students []string) string {
	choices := append(quoteAll(students), `"You" (the human user)`)
	example := domain.HumanName
	if len(students) > 0 {
		example = students[0]
	}

	var b strings.Builder
	b.WriteString("Rules for calling on participants:\n")
	fmt.Fprintf(&b, "- End every message by calling on one participant by name, for example %q.\n", example+", what do you think?")
	fmt.Fprintf(&b, "- Choose only from: %s.\n", strings.Join(choices, ", "))
	b.WriteString("- Never invent names and never ask \"anyone\" in general. If unsure, call on \"You\".\n\n")
	b.WriteString("Ending the discussion:\n")
	b.WriteString("- Invite \"You\" to share final thoughts before concluding, and do not call on students once the discussion is ending.\n")
	b.WriteString("- After that, thank the participants and summarise the key points without starting a new discussion.\n")
	fmt.Fprintf(&b, "- Your closing message must include %q.", speaker.ClosingMarker)
	return b.String()
}

func studentGuidelines(self string, students []string) string {
	var peers []string
	for _, s := range students {
		if s != self {
			peers = append(peers, s)
		}
	}
	choices := append(quoteAll(peers), `"Teacher"`, `"You"`)

	var b strings.Builder
	b.WriteString("Participation guidelines:\n")
	b.WriteString("- End each message by calling on a classmate, the teacher or \"You\" (the human user) with a direct question.\n")
	fmt.Fprintf(&b, "- You may only call on: %s. Do not call on yourself; if unsure, call on \"Teacher\".\n", strings.Join(choices, ", "))
	b.WriteString("- Avoid vague endings such as \"Any thoughts?\" or \"What does everyone think?\".\n")
	fmt.Fprintf(&b, "- You are %s. Always speak in the first person.\n", self)
	b.WriteString("- Do not answer questions directed at someone else. Wait for your turn.")
	return b.String()
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%q", n)
	}
	return out
}
