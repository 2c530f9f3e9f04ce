// Package callout extracts the participant an utterance addresses as the next
// speaker ("Alvin, what do you think?").
//
// Detection runs in two stages. The proximity stage looks for an exact,
// case-sensitive, whole-word mention of a participant name in the last two
// sentences of the text. When that finds nothing, the phrase stage tries an
// ordered list of case-insensitive English call-out idioms against the whole
// text. The parser is a best-effort classifier: a miss never fails, it only
// hands the decision to the caller's fallback.
//
// Two modes are supported. [ModeDynamic] builds its patterns from the caller's
// candidate names and defaults to the teacher when nothing matches.
// [ModeFixed] builds its patterns from a closed name list, treats any mention
// of "human user" as addressing the human, and reports no match instead of
// defaulting.
package callout

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/ashureev/classroom-labs/internal/domain"
)

// Mode selects the name set the phrase patterns are built from.
type Mode string

const (
	// ModeDynamic builds patterns from the candidate names of each call.
	ModeDynamic Mode = "dynamic"
	// ModeFixed builds patterns once from a fixed name list and enables the
	// "human user" alias.
	ModeFixed Mode = "fixed"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeDynamic || m == ModeFixed
}

// Stage identifies which step of detection produced a match.
type Stage int

const (
	// StageNone means nothing was found and no default applies.
	StageNone Stage = iota
	// StageProximity is an exact name mention in the last two sentences.
	StageProximity
	// StagePhrase is a case-insensitive call-out idiom anywhere in the text.
	StagePhrase
	// StageAlias is the "human user" / "you" alias of fixed mode.
	StageAlias
	// StageDefault is the fallback name chosen when the text names nobody.
	StageDefault
)

func (s Stage) String() string {
	switch s {
	case StageProximity:
		return "proximity"
	case StagePhrase:
		return "phrase"
	case StageAlias:
		return "alias"
	case StageDefault:
		return "default"
	default:
		return "none"
	}
}

// IsCallOut reports whether the stage reflects an explicit call-out in the
// text rather than a default.
func (s Stage) IsCallOut() bool {
	return s == StageProximity || s == StagePhrase || s == StageAlias
}

// Match is the result of [Parser.Find].
type Match struct {
	Name  string
	Stage Stage
}

// Found reports whether a name was resolved.
func (m Match) Found() bool {
	return m.Name != ""
}

// DefaultFixedNames is the closed name list used by [ModeFixed] when no other
// list is configured.
var DefaultFixedNames = []string{"Alvin", "Bianca", "Charlie", domain.HumanName, domain.TeacherName}

const humanUserAlias = "human user"

// nonWord matches one character that cannot be part of a name. RE2 treats
// only ASCII as word characters in \b and \W.
const nonWord = `[^\p{L}\p{N}_]`

var (
	sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)
	humanAliases     = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bYou\b`),
		regexp.MustCompile(`(?i)human user`),
	}
)

// phraseTemplates are tried in declaration order. %s is replaced by a
// capturing alternation of participant names.
var phraseTemplates = []string{
	`(?:^|[^\p{L}\p{N}_])%s(?:,|\.|\?|!|\s).*?\?$`,
	`(?:^|[^\p{L}\p{N}_])%s(?:,|\.|\?|!|\s).*thoughts`,
	`(?:^|[^\p{L}\p{N}_])%s(?:,|\.|\?|!|\s).*think`,
	`Let's hear from\s+%s`,
	`%s,\s+would you`,
	`What (?:do|about|are) (?:you|your).*,\s+%s`,
	`%s,\s+what`,
	`What do you think,?\s+%s`,
	`Do you (?:have|think).*,?\s+%s`,
	`How about you,?\s+%s`,
	`%s,\s+(?:do|can|could) you`,
	`(?:Do|Can|Could|Would) %s`,
	`I'd like to hear from\s+%s`,
	`%s\s+(?:should|could|would) (?:you|your)`,
	`hear (?:your|) thoughts,?\s+%s`,
	`ask\s+%s`,
}

// Option configures a [Parser].
type Option func(*Parser)

// WithMode sets the detection mode. Default: [ModeDynamic].
func WithMode(m Mode) Option {
	return func(p *Parser) {
		p.mode = m
	}
}

// WithFixedNames sets the closed name list for [ModeFixed].
// Default: [DefaultFixedNames].
func WithFixedNames(names ...string) Option {
	return func(p *Parser) {
		p.fixedNames = slices.Clone(names)
	}
}

// Parser finds call-outs in utterance text. It is safe for concurrent use.
type Parser struct {
	mode       Mode
	fixedNames []string
	fixed      []*regexp.Regexp

	mu       sync.Mutex
	phrases  map[string][]*regexp.Regexp
	wordExps map[string]*regexp.Regexp
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		mode:       ModeDynamic,
		fixedNames: slices.Clone(DefaultFixedNames),
		phrases:    make(map[string][]*regexp.Regexp),
		wordExps:   make(map[string]*regexp.Regexp),
	}
	for _, o := range opts {
		o(p)
	}
	if p.mode == ModeFixed {
		p.fixed = compilePhrases(orderNames(p.fixedNames))
	}
	return p
}

// Find returns the candidate that text addresses as the next speaker.
// Empty or whitespace-only text never matches.
func (p *Parser) Find(text string, candidates []string) Match {
	text = strings.TrimSpace(text)
	if text == "" {
		return Match{}
	}
	if p.mode == ModeFixed {
		return p.findFixed(text, candidates)
	}
	return p.findDynamic(text, candidates)
}

func (p *Parser) findDynamic(text string, candidates []string) Match {
	valid := orderNames(withReserved(candidates))

	if name := p.scanProximity(text, valid); name != "" {
		return Match{Name: name, Stage: StageProximity}
	}
	if name := scanPhrases(text, p.dynamicPhrases(valid), valid); name != "" {
		return Match{Name: name, Stage: StagePhrase}
	}
	if slices.Contains(valid, domain.TeacherName) {
		return Match{Name: domain.TeacherName, Stage: StageDefault}
	}
	return Match{Name: domain.HumanName, Stage: StageDefault}
}

func (p *Parser) findFixed(text string, candidates []string) Match {
	if strings.Contains(text, humanUserAlias) {
		return Match{Name: domain.HumanName, Stage: StageAlias}
	}

	valid := orderNames(candidates)
	if name := p.scanProximity(text, valid); name != "" {
		return Match{Name: name, Stage: StageProximity}
	}
	if name := scanPhrases(text, p.fixed, valid); name != "" {
		return Match{Name: name, Stage: StagePhrase}
	}
	for _, re := range humanAliases {
		if re.MatchString(text) {
			return Match{Name: domain.HumanName, Stage: StageAlias}
		}
	}
	return Match{}
}

// scanProximity looks for an exact whole-word name in the last two sentences.
func (p *Parser) scanProximity(text string, names []string) string {
	for _, sentence := range lastSentences(text, 2) {
		for _, name := range names {
			if p.wordExp(name).MatchString(sentence) {
				return name
			}
		}
	}
	return ""
}

// scanPhrases returns the first capture of the first pattern that yields a
// name in valid. Captures are matched against valid case-insensitively and
// returned in their registered spelling.
func scanPhrases(text string, patterns []*regexp.Regexp, valid []string) string {
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			if name := canonical(m[1], valid); name != "" {
				return name
			}
		}
	}
	return ""
}

func (p *Parser) wordExp(name string) *regexp.Regexp {
	p.mu.Lock()
	defer p.mu.Unlock()
	re, ok := p.wordExps[name]
	if !ok {
		re = regexp.MustCompile(`(?:^|` + nonWord + `)` + regexp.QuoteMeta(name) + `(?:$|` + nonWord + `)`)
		p.wordExps[name] = re
	}
	return re
}

func (p *Parser) dynamicPhrases(names []string) []*regexp.Regexp {
	key := strings.Join(names, "\x00")
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.phrases[key]
	if !ok {
		res = compilePhrases(names)
		p.phrases[key] = res
	}
	return res
}

func compilePhrases(names []string) []*regexp.Regexp {
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" {
			quoted = append(quoted, regexp.QuoteMeta(n))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	group := "(" + strings.Join(quoted, "|") + ")"

	res := make([]*regexp.Regexp, len(phraseTemplates))
	for i, tpl := range phraseTemplates {
		res[i] = regexp.MustCompile("(?i)" + fmt.Sprintf(tpl, group))
	}
	return res
}

// lastSentences splits text on terminal punctuation followed by whitespace
// and returns at most n trailing non-empty sentences.
func lastSentences(text string, n int) []string {
	var sentences []string
	for _, s := range sentenceBoundary.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) > n {
		sentences = sentences[len(sentences)-n:]
	}
	return sentences
}

func canonical(captured string, valid []string) string {
	if slices.Contains(valid, captured) {
		return captured
	}
	for _, v := range valid {
		if strings.EqualFold(v, captured) {
			return v
		}
	}
	return ""
}

func withReserved(candidates []string) []string {
	out := slices.Clone(candidates)
	for _, r := range []string{domain.HumanName, domain.TeacherName} {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// orderNames dedupes names and orders them longest first so a name is tried
// before any shorter name it contains. Ties keep their input order.
func orderNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.SortStableFunc(out, func(a, b string) int {
		return len(b) - len(a)
	})
	return out
}
