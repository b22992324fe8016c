package query

import (
	"strings"
	"unicode"
)

// Lexer tokenizes selector strings
type Lexer struct {
	input   string
	pos     int  // current position
	readPos int  // next read position
	ch      byte // current character
}

// NewLexer creates a new lexer for the given input
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

// readChar advances to the next character
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

// peekChar looks at the next character without advancing
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// NextToken returns the next token from the input
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	tok := Token{Pos: l.pos}

	switch l.ch {
	case '(':
		tok.Type, tok.Literal = TokenLeftParen, "("
	case ')':
		tok.Type, tok.Literal = TokenRightParen, ")"
	case '{':
		tok.Type, tok.Literal = TokenLeftBrace, "{"
	case '}':
		tok.Type, tok.Literal = TokenRightBrace, "}"
	case ',':
		tok.Type, tok.Literal = TokenComma, ","
	case '=':
		if l.peekChar() == '~' {
			l.readChar()
			tok.Type, tok.Literal = TokenMatch, "=~"
		} else {
			tok.Type, tok.Literal = TokenEqual, "="
		}
	case '!':
		switch l.peekChar() {
		case '=':
			l.readChar()
			tok.Type, tok.Literal = TokenNotEqual, "!="
		case '~':
			l.readChar()
			tok.Type, tok.Literal = TokenNotMatch, "!~"
		default:
			tok.Type, tok.Literal = TokenIllegal, "!"
		}
	case '"', '\'':
		tok.Type = TokenString
		lit, ok := l.readString(l.ch)
		tok.Literal = lit
		if !ok {
			tok.Type = TokenIllegal
			return tok
		}
	case 0:
		tok.Type = TokenEOF
	default:
		if isIdentStart(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = lookupKeyword(tok.Literal)
			return tok
		}
		tok.Type, tok.Literal = TokenIllegal, string(l.ch)
	}

	l.readChar()
	return tok
}

// skipWhitespace skips whitespace
func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// readIdentifier reads an identifier (series name, label name, keyword)
func (l *Lexer) readIdentifier() string {
	pos := l.pos
	for isIdentStart(l.ch) || isDigit(l.ch) || l.ch == ':' || l.ch == '.' {
		l.readChar()
	}
	return l.input[pos:l.pos]
}

// readString reads a quoted string, resolving backslash escapes. The
// lexer is left on the closing quote; ok is false when there is none.
func (l *Lexer) readString(quote byte) (string, bool) {
	var b strings.Builder
	for {
		l.readChar()
		switch l.ch {
		case 0:
			return b.String(), false
		case quote:
			return b.String(), true
		case '\\':
			l.readChar()
			if l.ch == 0 {
				return b.String(), false
			}
			switch l.ch {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(l.ch)
			}
		default:
			b.WriteByte(l.ch)
		}
	}
}

func isIdentStart(ch byte) bool {
	return ch == '_' || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// lookupKeyword checks if identifier is a keyword
func lookupKeyword(ident string) TokenType {
	switch strings.ToLower(ident) {
	case "by":
		return TokenBy
	case "without":
		return TokenWithout
	}
	return TokenIdentifier
}
