package query

import (
	"fmt"
	"regexp"
)

// Parser parses series selectors using recursive descent:
//
//	selector := [name] ["{" matchers "}"] [("by" | "without") "(" labels ")"]
type Parser struct {
	lexer   *Lexer
	current Token
	peek    Token
}

// NewParser creates a new parser for the given input
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to initialize current and peek
	p.nextToken()
	p.nextToken()
	return p
}

// ParseSelector parses input as a selector
func ParseSelector(input string) (*Selector, error) {
	return NewParser(input).Parse()
}

// Parse parses the input and returns the selector or an error
func (p *Parser) Parse() (*Selector, error) {
	sel := &Selector{}

	if p.current.Type == TokenIdentifier {
		sel.Name = p.current.Literal
		p.nextToken()
	}

	if p.current.Type == TokenLeftBrace {
		matchers, err := p.parseLabelMatchers()
		if err != nil {
			return nil, err
		}
		sel.Matchers = matchers
	}

	if sel.Name == "" && len(sel.Matchers) == 0 {
		return nil, p.errorf("expected series name or label matchers")
	}

	if p.current.Type == TokenBy || p.current.Type == TokenWithout {
		sel.Without = p.current.Type == TokenWithout
		sel.Grouped = true
		p.nextToken()

		labels, err := p.parseGroupingLabels()
		if err != nil {
			return nil, err
		}
		sel.Grouping = labels
	}

	if p.current.Type != TokenEOF {
		return nil, p.errorf("unexpected token after selector")
	}
	return sel, nil
}

// nextToken advances to the next token
func (p *Parser) nextToken() {
	p.current = p.peek
	p.peek = p.lexer.NextToken()
}

// parseLabelMatchers parses label matchers: {label="value", label2!~"re.*"}
func (p *Parser) parseLabelMatchers() ([]*LabelMatcher, error) {
	var matchers []*LabelMatcher
	p.nextToken() // consume '{'

	for p.current.Type != TokenRightBrace {
		if !isIdent(p.current.Type) {
			return nil, p.errorf("expected label name")
		}
		matcher := &LabelMatcher{Name: p.current.Literal}
		p.nextToken()

		if !isLabelMatchOp(p.current.Type) {
			return nil, p.errorf("expected label match operator")
		}
		matcher.Op = p.current.Type
		p.nextToken()

		if p.current.Type != TokenString {
			return nil, p.errorf("expected quoted label value")
		}
		matcher.Value = p.current.Literal
		p.nextToken()

		if matcher.Op == TokenMatch || matcher.Op == TokenNotMatch {
			// Anchored, so the pattern must match the whole value
			re, err := regexp.Compile("^(?:" + matcher.Value + ")$")
			if err != nil {
				return nil, fmt.Errorf("invalid regex for label %q: %w", matcher.Name, err)
			}
			matcher.re = re
		}
		matchers = append(matchers, matcher)

		if p.current.Type == TokenComma {
			p.nextToken()
			continue
		}
		if p.current.Type != TokenRightBrace {
			return nil, p.errorf("expected ',' or '}'")
		}
	}

	p.nextToken() // consume '}'
	return matchers, nil
}

// parseGroupingLabels parses grouping labels: (label1, label2)
func (p *Parser) parseGroupingLabels() ([]string, error) {
	if p.current.Type != TokenLeftParen {
		return nil, p.errorf("expected '(' after grouping keyword")
	}
	p.nextToken() // consume '('

	var labels []string
	for p.current.Type != TokenRightParen {
		if !isIdent(p.current.Type) {
			return nil, p.errorf("expected label name")
		}
		labels = append(labels, p.current.Literal)
		p.nextToken()

		if p.current.Type == TokenComma {
			p.nextToken()
			continue
		}
		if p.current.Type != TokenRightParen {
			return nil, p.errorf("expected ',' or ')'")
		}
	}

	p.nextToken() // consume ')'
	return labels, nil
}

func (p *Parser) errorf(msg string) error {
	if p.current.Type == TokenEOF {
		return fmt.Errorf("%s at end of input", msg)
	}
	return fmt.Errorf("%s at position %d, got %q", msg, p.current.Pos, p.current.Literal)
}

// Keywords are valid names inside matchers and grouping lists
func isIdent(t TokenType) bool {
	return t == TokenIdentifier || t == TokenBy || t == TokenWithout
}

func isLabelMatchOp(t TokenType) bool {
	return t == TokenEqual || t == TokenNotEqual || t == TokenMatch || t == TokenNotMatch
}
