package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"pillhelper/internal/domain"
)

// Rule rewrites one pattern in an utterance.
type Rule interface {
	Rewrite(input string) (output string, changed bool)
}

// LineParser turns one rules-file line into a Rule.
type LineParser interface {
	Accepts(line string) bool
	Parse(line string) (Rule, error)
}

// Pronunciation applies substitution rules to utterances before they are
// spoken. Rules listed before any section header apply to every language;
// rules under a "[zh-TW]" style header apply only to that language.
//
//	mg => milligrams
//	[zh-TW]
//	s/(\d+)\s*mg/$1 毫克/g
type Pronunciation struct {
	common    []Rule
	byLang    map[domain.Language][]Rule
	loopLimit int
}

// Load reads rules from path. A blank path or a missing file yields an empty ruleset.
func Load(path string, loopLimit int) (*Pronunciation, error) {
	return LoadWithParsers(path, loopLimit, DefaultParsers())
}

func LoadWithParsers(path string, loopLimit int, parsers []LineParser) (*Pronunciation, error) {
	if strings.TrimSpace(path) == "" {
		return Parse("", loopLimit, parsers)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Parse("", loopLimit, parsers)
		}
		return nil, fmt.Errorf("failed to read pronunciation rules %q: %w", path, err)
	}

	p, err := Parse(string(contents), loopLimit, parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pronunciation rules %q: %w", path, err)
	}
	return p, nil
}

// Parse compiles rules from text.
func Parse(contents string, loopLimit int, parsers []LineParser) (*Pronunciation, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}

	p := &Pronunciation{byLang: map[domain.Language][]Rule{}, loopLimit: loopLimit}
	section := domain.Language("")

	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if lang, ok := sectionHeader(line); ok {
			if lang != "*" && !domain.Language(lang).Valid() {
				return nil, fmt.Errorf("line %d: unknown language section %q", index+1, lang)
			}
			section = domain.Language(strings.TrimPrefix(lang, "*"))
			continue
		}

		rule, err := parseLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		if section == "" {
			p.common = append(p.common, rule)
		} else {
			p.byLang[section] = append(p.byLang[section], rule)
		}
	}

	return p, nil
}

// Apply rewrites text for lang until no rule changes it or the loop limit is hit.
func (p *Pronunciation) Apply(text string, lang domain.Language) (string, error) {
	rules := make([]Rule, 0, len(p.common)+len(p.byLang[lang]))
	rules = append(rules, p.common...)
	rules = append(rules, p.byLang[lang]...)
	if len(rules) == 0 {
		return text, nil
	}

	result := text
	for i := 0; i < p.loopLimit; i++ {
		changed := false
		for _, rule := range rules {
			if next, ok := rule.Rewrite(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}
	return result, nil
}

// Len reports how many rules apply to lang.
func (p *Pronunciation) Len(lang domain.Language) int {
	return len(p.common) + len(p.byLang[lang])
}

func sectionHeader(line string) (string, bool) {
	if len(line) < 3 || line[0] != '[' || line[len(line)-1] != ']' {
		return "", false
	}
	return strings.TrimSpace(line[1 : len(line)-1]), true
}

func parseLine(line string, parsers []LineParser) (Rule, error) {
	for _, parser := range parsers {
		if parser.Accepts(line) {
			return parser.Parse(line)
		}
	}
	return nil, errors.New("unsupported rule format")
}

// DefaultParsers recognizes "s/pattern/replacement/flags" and "from => to" lines.
func DefaultParsers() []LineParser {
	return []LineParser{substituteParser{}, arrowParser{}}
}

type arrowParser struct{}

func (arrowParser) Accepts(line string) bool {
	return strings.Contains(line, "=>")
}

func (arrowParser) Parse(line string) (Rule, error) {
	return parseArrow(line)
}

type substituteParser struct{}

func (substituteParser) Accepts(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordOrSpace(line[1])
}

func (substituteParser) Parse(line string) (Rule, error) {
	return parseSubstitute(line)
}

type wordRule struct {
	re          *regexp.Regexp
	replacement string
}

func parseArrow(line string) (Rule, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid substitution")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("substitution source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, fmt.Errorf("invalid substitution source: %w", err)
	}
	return wordRule{re: re, replacement: strings.TrimSpace(to)}, nil
}

func (r wordRule) Rewrite(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type patternRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseSubstitute(line string) (Rule, error) {
	if len(line) < 2 {
		return nil, errors.New("invalid pattern rule")
	}
	delim := line[1]
	if isWordOrSpace(delim) {
		return nil, errors.New("pattern delimiter must be non-alphanumeric")
	}

	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid replacement: %w", err)
	}

	inline := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
		case 'g':
			global = true
		case 'm', 's':
			inline += string(flag)
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported pattern flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return patternRule{re: re, replacement: replacement, global: global}, nil
}

func (r patternRule) Rewrite(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	match := r.re.FindStringSubmatchIndex(input)
	if match == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, match)
	output := input[:match[0]] + string(expanded) + input[match[1]:]
	return output, output != input
}

// readDelimited reads up to the next unescaped delim, keeping escapes intact.
func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		switch {
		case escaped:
			escaped = false
		case char == '\\':
			escaped = true
		case char == delim:
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == ' ' || char == '\t'
}
