package parser

import (
	"testing"

	"nexuslang/internal/errors"
	"nexuslang/internal/lexer"
)

func parseSource(t *testing.T, source string) []Stmt {
	t.Helper()
	tokens := lexer.NewScanner(source).ScanTokens()
	stmts, errs := NewParserWithSource(tokens, source, "test.nx").Parse()
	if len(errs) > 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	return stmts
}

func TestParseLetAndArithmetic(t *testing.T) {
	stmts := parseSource(t, `let x = 1 + 2 * 3`)
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(stmts))
	}
	let, ok := stmts[0].(*LetStmt)
	if !ok {
		t.Fatalf("expected LetStmt, got %T", stmts[0])
	}
	// Multiplication binds tighter: 1 + (2 * 3)
	add, ok := let.Expr.(*Binary)
	if !ok || add.Operator != "+" {
		t.Fatalf("expected top-level '+', got %#v", let.Expr)
	}
	mul, ok := add.Right.(*Binary)
	if !ok || mul.Operator != "*" {
		t.Fatalf("expected right operand '*', got %#v", add.Right)
	}
}

func TestParsePrecedenceComparison(t *testing.T) {
	stmts := parseSource(t, `print(1 + 2 < 4 * 1)`)
	print := stmts[0].(*PrintStmt)
	cmp, ok := print.Expr.(*Binary)
	if !ok || cmp.Operator != "<" {
		t.Fatalf("expected '<' at the top, got %#v", print.Expr)
	}
}

func TestParseFunction(t *testing.T) {
	stmts := parseSource(t, `
fn add(a, b) {
    return a + b
}`)
	fn, ok := stmts[0].(*FunctionStmt)
	if !ok {
		t.Fatalf("expected FunctionStmt, got %T", stmts[0])
	}
	if fn.Name != "add" || len(fn.Params) != 2 {
		t.Errorf("unexpected function shape: %s/%d", fn.Name, len(fn.Params))
	}
}

func TestParseArrowFunction(t *testing.T) {
	stmts := parseSource(t, `fn double(x) => x * 2`)
	fn := stmts[0].(*FunctionStmt)
	if len(fn.Body) != 1 {
		t.Fatalf("arrow body should desugar to a single return, got %d stmts", len(fn.Body))
	}
	if _, ok := fn.Body[0].(*ReturnStmt); !ok {
		t.Errorf("arrow body should be a ReturnStmt, got %T", fn.Body[0])
	}
}

func TestParsePersonalityBlock(t *testing.T) {
	stmts := parseSource(t, `personality { curiosity: 0.8, analytical: 0.5 }`)
	ps, ok := stmts[0].(*PersonalityStmt)
	if !ok {
		t.Fatalf("expected PersonalityStmt, got %T", stmts[0])
	}
	if len(ps.Traits) != 2 {
		t.Fatalf("expected 2 traits, got %d", len(ps.Traits))
	}
	if ps.Traits[0].Name != "curiosity" || ps.Traits[1].Name != "analytical" {
		t.Errorf("unexpected trait names: %+v", ps.Traits)
	}
}

func TestParseKnowledgeQuery(t *testing.T) {
	stmts := parseSource(t, `let answer = knowledge("port scanning")`)
	let := stmts[0].(*LetStmt)
	kq, ok := let.Expr.(*KnowledgeExpr)
	if !ok {
		t.Fatalf("expected KnowledgeExpr, got %T", let.Expr)
	}
	lit, ok := kq.Query.(*Literal)
	if !ok || lit.Value != "port scanning" {
		t.Errorf("unexpected query %#v", kq.Query)
	}
}

func TestParseSayAndListen(t *testing.T) {
	stmts := parseSource(t, `
say("hello")
say("great news", emotion: "happy")
let heard = listen(timeout: 5)
let heard2 = listen()
`)
	if len(stmts) != 4 {
		t.Fatalf("expected 4 statements, got %d", len(stmts))
	}
	plain := stmts[0].(*SayStmt)
	if plain.Emotion != nil {
		t.Error("say without emotion should have nil Emotion")
	}
	emo := stmts[1].(*SayStmt)
	if emo.Emotion == nil {
		t.Error("say with emotion should carry the emotion expression")
	}
	withTimeout := stmts[2].(*LetStmt).Expr.(*ListenExpr)
	if withTimeout.Timeout == nil {
		t.Error("listen(timeout: 5) should carry the timeout expression")
	}
	bare := stmts[3].(*LetStmt).Expr.(*ListenExpr)
	if bare.Timeout != nil {
		t.Error("listen() should have nil Timeout")
	}
}

func TestParseDecide(t *testing.T) {
	stmts := parseSource(t, `
decide {
    branch { curiosity: 1.0 } => { print("explore") }
    branch { caution: 1.0 } => { print("wait") }
}`)
	ds, ok := stmts[0].(*DecideStmt)
	if !ok {
		t.Fatalf("expected DecideStmt, got %T", stmts[0])
	}
	if len(ds.Branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(ds.Branches))
	}
	if ds.Branches[0].Weights[0].Name != "curiosity" {
		t.Errorf("unexpected branch weights: %+v", ds.Branches[0].Weights)
	}
}

func TestParseTensorLiteral(t *testing.T) {
	stmts := parseSource(t, `let v = tensor [1.0, 2.0, 3.0]`)
	te, ok := stmts[0].(*LetStmt).Expr.(*TensorExpr)
	if !ok {
		t.Fatalf("expected TensorExpr, got %T", stmts[0].(*LetStmt).Expr)
	}
	if len(te.Elements) != 3 {
		t.Errorf("expected 3 elements, got %d", len(te.Elements))
	}
}

func TestParseErrorHasPosition(t *testing.T) {
	source := `bad syntax (`
	tokens := lexer.NewScanner(source).ScanTokens()
	_, errs := NewParserWithSource(tokens, source, "test.nx").Parse()
	if len(errs) == 0 {
		t.Fatal("expected a parse error")
	}
	err := errs[0]
	if err.Type != errors.ParseError {
		t.Errorf("expected ParseError, got %s", err.Type)
	}
	if err.Location.Line != 1 || err.Location.Column == 0 {
		t.Errorf("error should reference the offending position, got %d:%d",
			err.Location.Line, err.Location.Column)
	}
}

func TestTruncatedExpressionIsAnError(t *testing.T) {
	// Input that ends mid-expression must surface as a ParseError at the
	// end of input, never hang or overflow the parser.
	cases := []string{
		"bad syntax (",
		"let x = 1 +",
		"print(",
		"f(1,",
		"(1 + 2",
		"say(\"hi\", emotion:",
	}
	for _, source := range cases {
		t.Run(source, func(t *testing.T) {
			tokens := lexer.NewScanner(source).ScanTokens()
			_, errs := NewParserWithSource(tokens, source, "test.nx").Parse()
			if len(errs) == 0 {
				t.Fatal("expected a parse error for truncated input")
			}
			if errs[0].Type != errors.ParseError {
				t.Errorf("expected ParseError, got %s", errs[0].Type)
			}
			if errs[0].Location.Line == 0 || errs[0].Location.Column == 0 {
				t.Errorf("error should carry a position, got %d:%d",
					errs[0].Location.Line, errs[0].Location.Column)
			}
		})
	}
}

func TestUnitErrorIsolation(t *testing.T) {
	// Three top-level units; the middle one is malformed. The siblings
	// must still parse.
	source := `
fn good_one() { return 1 }
fn broken( { return 2 }
fn good_two() { return 3 }
`
	tokens := lexer.NewScanner(source).ScanTokens()
	units := NewParserWithSource(tokens, source, "test.nx").ParseUnits()

	var ok, failed int
	for _, u := range units {
		if u.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	if failed != 1 {
		t.Errorf("expected exactly 1 failed unit, got %d", failed)
	}
	if ok != 2 {
		t.Errorf("expected 2 parsed units, got %d", ok)
	}
}

func TestLexErrorSurfacesInParse(t *testing.T) {
	source := `let x = @`
	tokens := lexer.NewScanner(source).ScanTokens()
	_, errs := NewParser(tokens).Parse()
	if len(errs) == 0 {
		t.Fatal("expected an error for the unexpected character")
	}
	if errs[0].Type != errors.LexError {
		t.Errorf("expected LexError, got %s", errs[0].Type)
	}
}
