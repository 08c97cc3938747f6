package lexer

import "testing"

func tokenTypes(tokens []Token) []TokenType {
	types := make([]TokenType, len(tokens))
	for i, t := range tokens {
		types[i] = t.Type
	}
	return types
}

func TestScanBasicTokens(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []TokenType
	}{
		{
			name:   "let binding",
			source: `let x = 42`,
			want:   []TokenType{TokenLet, TokenIdent, TokenEqual, TokenInt, TokenEOF},
		},
		{
			name:   "float vs int",
			source: `1 2.5 3`,
			want:   []TokenType{TokenInt, TokenFloat, TokenInt, TokenEOF},
		},
		{
			name:   "arithmetic",
			source: `1 + 2 * 3 % 4`,
			want:   []TokenType{TokenInt, TokenPlus, TokenInt, TokenStar, TokenInt, TokenPercent, TokenInt, TokenEOF},
		},
		{
			name:   "comparison operators",
			source: `a <= b >= c == d != e`,
			want:   []TokenType{TokenIdent, TokenLE, TokenIdent, TokenGE, TokenIdent, TokenDoubleEqual, TokenIdent, TokenNotEqual, TokenIdent, TokenEOF},
		},
		{
			name:   "function with arrow body",
			source: `fn double(x) => x * 2`,
			want:   []TokenType{TokenFn, TokenIdent, TokenLParen, TokenIdent, TokenRParen, TokenArrow, TokenIdent, TokenStar, TokenInt, TokenEOF},
		},
		{
			name:   "comments are discarded",
			source: "let a = 1 // trailing comment\nlet b = 2",
			want:   []TokenType{TokenLet, TokenIdent, TokenEqual, TokenInt, TokenLet, TokenIdent, TokenEqual, TokenInt, TokenEOF},
		},
		{
			name:   "logical operators",
			source: `true && false || !true`,
			want:   []TokenType{TokenTrue, TokenAnd, TokenFalse, TokenOr, TokenNot, TokenTrue, TokenEOF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := NewScanner(tt.source).ScanTokens()
			got := tokenTypes(tokens)
			if len(got) != len(tt.want) {
				t.Fatalf("token count: got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token %d: got %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestScanDomainKeywords(t *testing.T) {
	source := `personality knowledge say listen decide branch adapt tensor trait`
	want := []TokenType{
		TokenPersonality, TokenKnowledge, TokenSay, TokenListen,
		TokenDecide, TokenBranch, TokenAdapt, TokenTensor, TokenTrait, TokenEOF,
	}
	got := tokenTypes(NewScanner(source).ScanTokens())
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestScanStringEscapes(t *testing.T) {
	tokens := NewScanner(`"a\nb\t\"c\""`).ScanTokens()
	if tokens[0].Type != TokenString {
		t.Fatalf("expected string token, got %s", tokens[0].Type)
	}
	if tokens[0].Lexeme != "a\nb\t\"c\"" {
		t.Errorf("unexpected lexeme %q", tokens[0].Lexeme)
	}
}

func TestErrorRecovery(t *testing.T) {
	// '@' and '#' are not part of the language; scanning must continue
	// past them and still produce the surrounding tokens.
	tokens := NewScanner("let @ x # = 1").ScanTokens()
	got := tokenTypes(tokens)
	want := []TokenType{TokenLet, TokenError, TokenIdent, TokenError, TokenEqual, TokenInt, TokenEOF}
	if len(got) != len(want) {
		t.Fatalf("token stream: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if tokens[1].Lexeme != "@" {
		t.Errorf("error token should carry the offending character, got %q", tokens[1].Lexeme)
	}
	if tokens[1].Line != 1 || tokens[1].Column != 5 {
		t.Errorf("error token position: got %d:%d, want 1:5", tokens[1].Line, tokens[1].Column)
	}
}

func TestPositions(t *testing.T) {
	tokens := NewScannerWithFile("let x = 1\nlet y = 2", "test.nx").ScanTokens()
	// second 'let'
	if tokens[4].Line != 2 || tokens[4].Column != 1 {
		t.Errorf("second let: got %d:%d, want 2:1", tokens[4].Line, tokens[4].Column)
	}
	if tokens[4].File != "test.nx" {
		t.Errorf("file not carried: %q", tokens[4].File)
	}
}

func TestUnterminatedString(t *testing.T) {
	tokens := NewScanner(`say("hello`).ScanTokens()
	var sawError bool
	for _, tok := range tokens {
		if tok.Type == TokenError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error token for an unterminated string")
	}
}

func TestShebangSkipped(t *testing.T) {
	tokens := NewScanner("#!/usr/bin/env nexus\nlet x = 1").ScanTokens()
	if tokens[0].Type != TokenLet {
		t.Errorf("shebang line should be skipped, first token %s", tokens[0].Type)
	}
	if tokens[0].Line != 2 {
		t.Errorf("line tracking across shebang: got %d, want 2", tokens[0].Line)
	}
}
