package query

import (
	"testing"

	"github.com/nicktill/tinydigest/pkg/storage"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{
			input:    "request_duration_seconds",
			expected: []TokenType{TokenIdentifier, TokenEOF},
		},
		{
			input:    `latency{route="/api"}`,
			expected: []TokenType{TokenIdentifier, TokenLeftBrace, TokenIdentifier, TokenEqual, TokenString, TokenRightBrace, TokenEOF},
		},
		{
			input:    `{a!="x", b=~'y.*', c!~"z"}`,
			expected: []TokenType{TokenLeftBrace, TokenIdentifier, TokenNotEqual, TokenString, TokenComma, TokenIdentifier, TokenMatch, TokenString, TokenComma, TokenIdentifier, TokenNotMatch, TokenString, TokenRightBrace, TokenEOF},
		},
		{
			input:    "latency by (host)",
			expected: []TokenType{TokenIdentifier, TokenBy, TokenLeftParen, TokenIdentifier, TokenRightParen, TokenEOF},
		},
		{
			input:    "latency WITHOUT (host)",
			expected: []TokenType{TokenIdentifier, TokenWithout, TokenLeftParen, TokenIdentifier, TokenRightParen, TokenEOF},
		},
		{
			input:    `"unterminated`,
			expected: []TokenType{TokenIllegal},
		},
		{
			input:    "a ! b",
			expected: []TokenType{TokenIdentifier, TokenIllegal, TokenIdentifier, TokenEOF},
		},
	}

	for _, tt := range tests {
		lexer := NewLexer(tt.input)
		for i, expectedType := range tt.expected {
			tok := lexer.NextToken()
			if tok.Type != expectedType {
				t.Errorf("Test %q token[%d]: expected %v, got %v (literal: %q)", tt.input, i, expectedType, tok.Type, tok.Literal)
			}
		}
	}
}

func TestLexerStringEscapes(t *testing.T) {
	lexer := NewLexer(`"a\"b\\c"`)
	tok := lexer.NextToken()
	if tok.Type != TokenString {
		t.Fatalf("Expected string token, got %v", tok.Type)
	}
	if tok.Literal != `a"b\c` {
		t.Errorf("Expected unescaped literal, got %q", tok.Literal)
	}
}

func TestParserName(t *testing.T) {
	sel, err := ParseSelector("request_duration_seconds")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if sel.Name != "request_duration_seconds" {
		t.Errorf("Expected name 'request_duration_seconds', got %q", sel.Name)
	}
	if len(sel.Matchers) != 0 || sel.Grouped {
		t.Errorf("Expected bare selector, got %+v", sel)
	}
}

func TestParserLabelMatchers(t *testing.T) {
	sel, err := ParseSelector(`latency{method="GET", status=~"5.."}`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if len(sel.Matchers) != 2 {
		t.Fatalf("Expected 2 matchers, got %d", len(sel.Matchers))
	}
	if sel.Matchers[0].Name != "method" || sel.Matchers[0].Op != TokenEqual || sel.Matchers[0].Value != "GET" {
		t.Errorf("Expected method=GET, got %+v", sel.Matchers[0])
	}
	if sel.Matchers[1].Name != "status" || sel.Matchers[1].Op != TokenMatch || sel.Matchers[1].Value != "5.." {
		t.Errorf("Expected status=~5.., got %+v", sel.Matchers[1])
	}
}

func TestParserGrouping(t *testing.T) {
	sel, err := ParseSelector(`{route="/api"} by (host, zone)`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if sel.Name != "" {
		t.Errorf("Expected no name, got %q", sel.Name)
	}
	if !sel.Grouped || sel.Without {
		t.Errorf("Expected 'by' grouping, got %+v", sel)
	}
	if len(sel.Grouping) != 2 || sel.Grouping[0] != "host" || sel.Grouping[1] != "zone" {
		t.Errorf("Expected grouping by host, zone, got %v", sel.Grouping)
	}

	sel, err = ParseSelector("latency without (by)")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !sel.Without || len(sel.Grouping) != 1 || sel.Grouping[0] != "by" {
		t.Errorf("Expected grouping without 'by', got %+v", sel)
	}
}

func TestParserErrors(t *testing.T) {
	inputs := []string{
		"",
		"{}",
		"latency{",
		"latency{route}",
		`latency{route="/api"`,
		`latency{route=/api}`,
		`latency{route="/api" host="a"}`,
		"latency by host",
		"latency by (host",
		"latency extra",
		`latency{route=~"("}`,
		"by (host)",
	}

	for _, input := range inputs {
		if _, err := ParseSelector(input); err == nil {
			t.Errorf("Expected error for %q", input)
		}
	}
}

func TestSelectorMatches(t *testing.T) {
	sel, err := ParseSelector(`latency{route="/api", status=~"5..", host!="canary", zone!~"eu-.*"}`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	tests := []struct {
		window storage.Window
		want   bool
	}{
		{storage.Window{Name: "latency", Labels: map[string]string{"route": "/api", "status": "503"}}, true},
		{storage.Window{Name: "latency", Labels: map[string]string{"route": "/api", "status": "503", "zone": "us-1"}}, true},
		{storage.Window{Name: "size", Labels: map[string]string{"route": "/api", "status": "503"}}, false},
		{storage.Window{Name: "latency", Labels: map[string]string{"route": "/api", "status": "200"}}, false},
		{storage.Window{Name: "latency", Labels: map[string]string{"route": "/api", "status": "5031"}}, false},
		{storage.Window{Name: "latency", Labels: map[string]string{"route": "/api", "status": "500", "host": "canary"}}, false},
		{storage.Window{Name: "latency", Labels: map[string]string{"route": "/api", "status": "500", "zone": "eu-west"}}, false},
		{storage.Window{Name: "latency", Labels: map[string]string{"status": "500"}}, false},
	}

	for i, tt := range tests {
		if got := sel.Matches(tt.window); got != tt.want {
			t.Errorf("case %d: Matches(%v) = %v, want %v", i, tt.window.Labels, got, tt.want)
		}
	}
}

func TestSelectorEqualLabels(t *testing.T) {
	sel, err := ParseSelector(`latency{route="/api", host!="a", empty=""}`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	labels := sel.equalLabels()
	if len(labels) != 1 || labels["route"] != "/api" {
		t.Errorf("Expected only route pushed down, got %v", labels)
	}
}
