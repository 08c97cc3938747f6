// internal/lexer/scanner.go
package lexer

import (
	"fmt"
	"unicode"
)

type TokenType string

const (
	// Keywords
	TokenFn     TokenType = "FN"
	TokenLet    TokenType = "LET"
	TokenIf     TokenType = "IF"
	TokenElse   TokenType = "ELSE"
	TokenWhile  TokenType = "WHILE"
	TokenReturn TokenType = "RETURN"
	TokenPrint  TokenType = "PRINT"

	// Domain keywords
	TokenPersonality TokenType = "PERSONALITY"
	TokenKnowledge   TokenType = "KNOWLEDGE"
	TokenSay         TokenType = "SAY"
	TokenListen      TokenType = "LISTEN"
	TokenDecide      TokenType = "DECIDE"
	TokenBranch      TokenType = "BRANCH"
	TokenAdapt       TokenType = "ADAPT"
	TokenTensor      TokenType = "TENSOR"
	TokenTrait       TokenType = "TRAIT"

	// Literals
	TokenTrue   TokenType = "TRUE"
	TokenFalse  TokenType = "FALSE"
	TokenNull   TokenType = "NULL"
	TokenIdent  TokenType = "IDENT"
	TokenString TokenType = "STRING"
	TokenInt    TokenType = "INT"
	TokenFloat  TokenType = "FLOAT"

	// Symbols
	TokenLParen      TokenType = "("
	TokenRParen      TokenType = ")"
	TokenLBrace      TokenType = "{"
	TokenRBrace      TokenType = "}"
	TokenLBracket    TokenType = "["
	TokenRBracket    TokenType = "]"
	TokenPlus        TokenType = "+"
	TokenMinus       TokenType = "-"
	TokenStar        TokenType = "*"
	TokenSlash       TokenType = "/"
	TokenPercent     TokenType = "%"
	TokenEqual       TokenType = "="
	TokenArrow       TokenType = "=>"
	TokenColon       TokenType = ":"
	TokenDoubleEqual TokenType = "=="
	TokenNotEqual    TokenType = "!="
	TokenLT          TokenType = "<"
	TokenGT          TokenType = ">"
	TokenLE          TokenType = "<="
	TokenGE          TokenType = ">="
	TokenAnd         TokenType = "&&"
	TokenOr          TokenType = "||"
	TokenNot         TokenType = "!"
	TokenComma       TokenType = ","
	TokenSemicolon   TokenType = ";"

	// TokenError carries an unexpected character; the scanner keeps going.
	TokenError TokenType = "ERROR"
	TokenEOF   TokenType = "EOF"
)

var keywords = map[string]TokenType{
	"fn":          TokenFn,
	"let":         TokenLet,
	"if":          TokenIf,
	"else":        TokenElse,
	"while":       TokenWhile,
	"return":      TokenReturn,
	"print":       TokenPrint,
	"personality": TokenPersonality,
	"knowledge":   TokenKnowledge,
	"say":         TokenSay,
	"listen":      TokenListen,
	"decide":      TokenDecide,
	"branch":      TokenBranch,
	"adapt":       TokenAdapt,
	"tensor":      TokenTensor,
	"trait":       TokenTrait,
	"true":        TokenTrue,
	"false":       TokenFalse,
	"null":        TokenNull,
}

type Token struct {
	Type   TokenType
	Lexeme string
	File   string
	Line   int
	Column int
}

func (t Token) String() string {
	return fmt.Sprintf("[%s] '%s' %d:%d", t.Type, t.Lexeme, t.Line, t.Column)
}

// Scanner turns source text into a flat token slice in one left-to-right
// pass. Malformed input never aborts the scan: an unexpected character is
// emitted as a TokenError token and scanning resumes at the next character.
type Scanner struct {
	source  string
	file    string
	tokens  []Token
	start   int
	current int
	line    int
	column  int // column of s.start, 1-based
	lineCol int // column of s.current within the current line
}

func NewScanner(source string) *Scanner {
	return &Scanner{source: source, line: 1, lineCol: 1}
}

func NewScannerWithFile(source, file string) *Scanner {
	return &Scanner{source: source, file: file, line: 1, lineCol: 1}
}

func (s *Scanner) ScanTokens() []Token {
	// Shebang line support for executable scripts
	if len(s.source) >= 2 && s.source[0] == '#' && s.source[1] == '!' {
		s.skipLine()
	}

	for !s.isAtEnd() {
		s.skipBlanks()
		if s.isAtEnd() {
			break
		}
		s.start = s.current
		s.column = s.lineCol
		s.scanToken()
	}
	s.tokens = append(s.tokens, Token{Type: TokenEOF, File: s.file, Line: s.line, Column: s.lineCol})
	return s.tokens
}

func (s *Scanner) scanToken() {
	c := s.advance()
	switch c {
	case '(':
		s.addToken(TokenLParen)
	case ')':
		s.addToken(TokenRParen)
	case '{':
		s.addToken(TokenLBrace)
	case '}':
		s.addToken(TokenRBrace)
	case '[':
		s.addToken(TokenLBracket)
	case ']':
		s.addToken(TokenRBracket)
	case '+':
		s.addToken(TokenPlus)
	case '-':
		s.addToken(TokenMinus)
	case '*':
		s.addToken(TokenStar)
	case '/':
		if s.match('/') {
			// Line comment, discarded
			for s.peek() != '\n' && !s.isAtEnd() {
				s.advance()
			}
		} else {
			s.addToken(TokenSlash)
		}
	case '%':
		s.addToken(TokenPercent)
	case '=':
		if s.match('=') {
			s.addToken(TokenDoubleEqual)
		} else if s.match('>') {
			s.addToken(TokenArrow)
		} else {
			s.addToken(TokenEqual)
		}
	case '!':
		if s.match('=') {
			s.addToken(TokenNotEqual)
		} else {
			s.addToken(TokenNot)
		}
	case '<':
		if s.match('=') {
			s.addToken(TokenLE)
		} else {
			s.addToken(TokenLT)
		}
	case '>':
		if s.match('=') {
			s.addToken(TokenGE)
		} else {
			s.addToken(TokenGT)
		}
	case ':':
		s.addToken(TokenColon)
	case ',':
		s.addToken(TokenComma)
	case ';':
		s.addToken(TokenSemicolon)
	case '&':
		if s.match('&') {
			s.addToken(TokenAnd)
		} else {
			s.errorToken("&")
		}
	case '|':
		if s.match('|') {
			s.addToken(TokenOr)
		} else {
			s.errorToken("|")
		}
	case '"':
		s.string()
	default:
		if isDigit(c) {
			s.number()
		} else if isAlpha(c) {
			s.identifier()
		} else {
			s.errorToken(string(c))
		}
	}
}

func (s *Scanner) identifier() {
	for isAlphaNumeric(s.peek()) {
		s.advance()
	}
	text := s.source[s.start:s.current]
	if t, ok := keywords[text]; ok {
		s.addToken(t)
		return
	}
	s.addToken(TokenIdent)
}

func (s *Scanner) number() {
	for isDigit(s.peek()) {
		s.advance()
	}
	t := TokenInt
	if s.peek() == '.' && isDigit(s.peekNext()) {
		t = TokenFloat
		s.advance() // '.'
		for isDigit(s.peek()) {
			s.advance()
		}
	}
	s.addToken(t)
}

func (s *Scanner) string() {
	var value []byte
	for s.peek() != '"' && !s.isAtEnd() {
		c := s.advance()
		if c == '\n' {
			s.line++
			s.lineCol = 1
		}
		if c == '\\' && !s.isAtEnd() {
			switch esc := s.advance(); esc {
			case 'n':
				value = append(value, '\n')
			case 't':
				value = append(value, '\t')
			case '"':
				value = append(value, '"')
			case '\\':
				value = append(value, '\\')
			default:
				value = append(value, '\\', esc)
			}
			continue
		}
		value = append(value, c)
	}
	if s.isAtEnd() {
		s.tokens = append(s.tokens, Token{
			Type: TokenError, Lexeme: "unterminated string",
			File: s.file, Line: s.line, Column: s.column,
		})
		return
	}
	s.advance() // closing quote
	s.tokens = append(s.tokens, Token{
		Type: TokenString, Lexeme: string(value),
		File: s.file, Line: s.line, Column: s.column,
	})
}

func (s *Scanner) addToken(t TokenType) {
	s.tokens = append(s.tokens, Token{
		Type:   t,
		Lexeme: s.source[s.start:s.current],
		File:   s.file,
		Line:   s.line,
		Column: s.column,
	})
}

func (s *Scanner) errorToken(lexeme string) {
	s.tokens = append(s.tokens, Token{
		Type:   TokenError,
		Lexeme: lexeme,
		File:   s.file,
		Line:   s.line,
		Column: s.column,
	})
}

func (s *Scanner) match(expected byte) bool {
	if s.isAtEnd() || s.source[s.current] != expected {
		return false
	}
	s.current++
	s.lineCol++
	return true
}

func (s *Scanner) advance() byte {
	c := s.source[s.current]
	s.current++
	s.lineCol++
	return c
}

func (s *Scanner) peek() byte {
	if s.isAtEnd() {
		return '\000'
	}
	return s.source[s.current]
}

func (s *Scanner) peekNext() byte {
	if s.current+1 >= len(s.source) {
		return '\000'
	}
	return s.source[s.current+1]
}

func (s *Scanner) isAtEnd() bool {
	return s.current >= len(s.source)
}

func (s *Scanner) skipBlanks() {
	for !s.isAtEnd() && unicode.IsSpace(rune(s.peek())) {
		if s.peek() == '\n' {
			s.line++
			s.lineCol = 0
		}
		s.advance()
	}
}

func (s *Scanner) skipLine() {
	for !s.isAtEnd() && s.peek() != '\n' {
		s.advance()
	}
	if !s.isAtEnd() {
		s.line++
		s.lineCol = 0
		s.advance()
	}
}

func isAlpha(c byte) bool {
	return unicode.IsLetter(rune(c)) || c == '_'
}

func isAlphaNumeric(c byte) bool {
	return isAlpha(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
