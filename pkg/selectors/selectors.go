// Package selectors provides attribute selectors used to pick a
// crosswalk or weight group for a given attribute dictionary.
//
// A selector tests an attribute dictionary against one or more
// bracket-delimited conditions, in the style of CSS attribute
// selectors:
//
//	[edition]                  attribute is present
//	[edition="2024"]           attribute equals value
//	[series^="acs"]            attribute starts with value
//	[series$="5yr"]            attribute ends with value
//	[notes*="revised"]         attribute contains value
//	[edition="2024" i]         case-insensitive comparison
//	[series="acs"][year]       compound: all conditions must hold
//
// Each selector carries a specificity; matching picks the candidate
// whose matching selector has the greatest unique specificity, falling
// back to a caller-supplied default when no match is unique.
package selectors

import (
	"fmt"
	"strings"

	"github.com/shawnbrown/toron/pkg/errors"
)

// Specificity ranks selectors for matching. The first element counts
// attribute conditions, the second counts value comparisons. Compared
// lexicographically.
type Specificity [2]int

// Compare returns -1, 0, or 1 as s sorts before, equal to, or after
// other.
func (s Specificity) Compare(other Specificity) int {
	for i := range s {
		switch {
		case s[i] < other[i]:
			return -1
		case s[i] > other[i]:
			return 1
		}
	}
	return 0
}

// Selector matches attribute dictionaries.
type Selector interface {
	// Match reports whether the attributes satisfy the selector.
	Match(attributes map[string]string) bool

	// Specificity returns the selector's match precedence.
	Specificity() Specificity

	fmt.Stringer
}

// SimpleSelector is a single bracketed attribute condition.
type SimpleSelector struct {
	Key        string
	Op         string // "", "=", "^=", "$=", "*=", "~="
	Value      string
	IgnoreCase bool
}

// Match implements Selector.
func (s SimpleSelector) Match(attributes map[string]string) bool {
	got, ok := attributes[s.Key]
	if !ok {
		return false
	}
	if s.Op == "" {
		return true
	}

	want := s.Value
	if s.IgnoreCase {
		got = strings.ToLower(got)
		want = strings.ToLower(want)
	}

	switch s.Op {
	case "=":
		return got == want
	case "^=":
		return strings.HasPrefix(got, want)
	case "$=":
		return strings.HasSuffix(got, want)
	case "*=":
		return strings.Contains(got, want)
	case "~=":
		for _, word := range strings.Fields(got) {
			if word == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Specificity implements Selector. A presence check counts one
// condition; a value comparison additionally counts one comparison.
func (s SimpleSelector) Specificity() Specificity {
	if s.Op == "" {
		return Specificity{1, 0}
	}
	return Specificity{1, 1}
}

// String implements fmt.Stringer.
func (s SimpleSelector) String() string {
	if s.Op == "" {
		return fmt.Sprintf("[%s]", s.Key)
	}
	if s.IgnoreCase {
		return fmt.Sprintf("[%s%s%q i]", s.Key, s.Op, s.Value)
	}
	return fmt.Sprintf("[%s%s%q]", s.Key, s.Op, s.Value)
}

// CompoundSelector requires every component selector to match.
type CompoundSelector []SimpleSelector

// Match implements Selector.
func (c CompoundSelector) Match(attributes map[string]string) bool {
	for _, s := range c {
		if !s.Match(attributes) {
			return false
		}
	}
	return len(c) > 0
}

// Specificity implements Selector as the element-wise sum of the
// component specificities.
func (c CompoundSelector) Specificity() Specificity {
	var total Specificity
	for _, s := range c {
		sp := s.Specificity()
		total[0] += sp[0]
		total[1] += sp[1]
	}
	return total
}

// String implements fmt.Stringer.
func (c CompoundSelector) String() string {
	var sb strings.Builder
	for _, s := range c {
		sb.WriteString(s.String())
	}
	return sb.String()
}

// Parse parses a selector string of one or more bracketed conditions.
func Parse(input string) (Selector, error) {
	rest := strings.TrimSpace(input)
	if rest == "" {
		return nil, errors.NewValidationError("selector", input, "empty selector")
	}

	var parts []SimpleSelector
	for rest != "" {
		if rest[0] != '[' {
			return nil, errors.NewValidationError(
				"selector", input, fmt.Sprintf("expected '[' at %q", rest))
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, errors.NewValidationError(
				"selector", input, "missing closing ']'")
		}
		simple, err := parseSimple(rest[1:end])
		if err != nil {
			return nil, err
		}
		parts = append(parts, simple)
		rest = strings.TrimSpace(rest[end+1:])
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return CompoundSelector(parts), nil
}

// ParseList parses each selector string in order.
func ParseList(inputs []string) ([]Selector, error) {
	parsed := make([]Selector, 0, len(inputs))
	for _, input := range inputs {
		sel, err := Parse(input)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, sel)
	}
	return parsed, nil
}

// parseSimple parses the inside of one bracket pair.
func parseSimple(body string) (SimpleSelector, error) {
	body = strings.TrimSpace(body)

	// Optional trailing case-insensitivity flag.
	ignoreCase := false
	if strings.HasSuffix(body, " i") || strings.HasSuffix(body, " I") {
		ignoreCase = true
		body = strings.TrimSpace(body[:len(body)-2])
	}

	opIndex := -1
	op := ""
	for _, candidate := range []string{"^=", "$=", "*=", "~="} {
		if i := strings.Index(body, candidate); i >= 0 {
			opIndex, op = i, candidate
			break
		}
	}
	if op == "" {
		if i := strings.IndexByte(body, '='); i >= 0 {
			opIndex, op = i, "="
		}
	}

	if op == "" {
		key := strings.TrimSpace(body)
		if key == "" {
			return SimpleSelector{}, errors.NewValidationError(
				"selector", body, "empty attribute name")
		}
		if ignoreCase {
			return SimpleSelector{}, errors.NewValidationError(
				"selector", body, "case flag requires a comparison value")
		}
		return SimpleSelector{Key: key}, nil
	}

	key := strings.TrimSpace(body[:opIndex])
	value := strings.TrimSpace(body[opIndex+len(op):])
	if key == "" {
		return SimpleSelector{}, errors.NewValidationError(
			"selector", body, "empty attribute name")
	}
	unquoted, err := unquote(value)
	if err != nil {
		return SimpleSelector{}, err
	}
	return SimpleSelector{Key: key, Op: op, Value: unquoted, IgnoreCase: ignoreCase}, nil
}

func unquote(value string) (string, error) {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return value[1 : len(value)-1], nil
		}
	}
	if strings.ContainsAny(value, `"'`) {
		return "", errors.NewValidationError("selector", value, "unbalanced quotes")
	}
	return value, nil
}

// GetGreatestUniqueSpecificity returns the candidate id whose matching
// selector has the greatest specificity, provided that specificity is
// unique among candidates; otherwise it returns defaultID. Candidates
// that match with multiple selectors count their best one.
func GetGreatestUniqueSpecificity(
	attributes map[string]string,
	candidates map[uint64][]Selector,
	defaultID uint64,
) uint64 {
	type match struct {
		id          uint64
		specificity Specificity
	}
	var matches []match
	for id, sels := range candidates {
		best := Specificity{}
		matched := false
		for _, sel := range sels {
			if !sel.Match(attributes) {
				continue
			}
			if sp := sel.Specificity(); !matched || sp.Compare(best) > 0 {
				best = sp
				matched = true
			}
		}
		if matched {
			matches = append(matches, match{id: id, specificity: best})
		}
	}
	if len(matches) == 0 {
		return defaultID
	}

	greatest := matches[0]
	ties := 1
	for _, m := range matches[1:] {
		switch m.specificity.Compare(greatest.specificity) {
		case 1:
			greatest = m
			ties = 1
		case 0:
			ties++
		}
	}
	if ties > 1 {
		return defaultID
	}
	return greatest.id
}
