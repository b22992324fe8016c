package query

import (
	"regexp"

	"github.com/nicktill/tinydigest/pkg/storage"
)

// TokenType represents the type of token in a selector
type TokenType int

const (
	// Literals
	TokenIdentifier TokenType = iota // series_name, label_name
	TokenString                      // "value"

	// Label matchers
	TokenEqual    // =
	TokenNotEqual // !=
	TokenMatch    // =~
	TokenNotMatch // !~

	// Delimiters
	TokenLeftParen  // (
	TokenRightParen // )
	TokenLeftBrace  // {
	TokenRightBrace // }
	TokenComma      // ,

	// Keywords
	TokenBy      // by
	TokenWithout // without

	// Special
	TokenEOF
	TokenIllegal
)

// Token represents a single token in the selector
type Token struct {
	Type    TokenType
	Literal string
	Pos     int // Position in input string
}

// Selector picks series by name and label matchers, and optionally says
// how matching series are grouped before their digests are merged:
//
//	latency{route="/api", status=~"5.."} by (host)
type Selector struct {
	Name     string
	Matchers []*LabelMatcher

	// Grouping labels; Without inverts the set
	Grouping []string
	Without  bool
	Grouped  bool
}

// LabelMatcher represents a label matching condition
type LabelMatcher struct {
	Name  string
	Op    TokenType // =, !=, =~, !~
	Value string

	re *regexp.Regexp
}

// Matches reports whether the label set satisfies the matcher. A missing
// label matches as the empty string.
func (m *LabelMatcher) Matches(labels map[string]string) bool {
	v := labels[m.Name]
	switch m.Op {
	case TokenEqual:
		return v == m.Value
	case TokenNotEqual:
		return v != m.Value
	case TokenMatch:
		return m.re.MatchString(v)
	case TokenNotMatch:
		return !m.re.MatchString(v)
	default:
		return false
	}
}

// Matches reports whether w belongs to a series the selector picks
func (s *Selector) Matches(w storage.Window) bool {
	if s.Name != "" && w.Name != s.Name {
		return false
	}
	for _, m := range s.Matchers {
		if !m.Matches(w.Labels) {
			return false
		}
	}
	return true
}

// equalLabels returns the non-empty equality matchers, which storage can
// filter on directly
func (s *Selector) equalLabels() map[string]string {
	var labels map[string]string
	for _, m := range s.Matchers {
		if m.Op != TokenEqual || m.Value == "" {
			continue
		}
		if labels == nil {
			labels = make(map[string]string)
		}
		labels[m.Name] = m.Value
	}
	return labels
}

// GroupMode says how matching series are combined
type GroupMode string

const (
	GroupSeries GroupMode = "series" // one result per series
	GroupAll    GroupMode = "all"    // one result for everything matched
)
