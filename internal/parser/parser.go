// internal/parser/parser.go
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"nexuslang/internal/errors"
	"nexuslang/internal/lexer"
)

var precedence = map[lexer.TokenType]int{
	// Logical operators (lowest precedence)
	lexer.TokenOr:  1, // ||
	lexer.TokenAnd: 2, // &&
	// Comparison operators
	lexer.TokenDoubleEqual: 3, // ==
	lexer.TokenNotEqual:    3, // !=
	lexer.TokenLT:          3, // <
	lexer.TokenGT:          3, // >
	lexer.TokenLE:          3, // <=
	lexer.TokenGE:          3, // >=
	// Arithmetic operators
	lexer.TokenPlus:    4, // +
	lexer.TokenMinus:   4, // -
	lexer.TokenStar:    5, // *
	lexer.TokenSlash:   5, // /
	lexer.TokenPercent: 5, // %
}

// tokens that can begin a top-level unit; used to resynchronize after
// a structural error so sibling units still parse.
var unitStart = map[lexer.TokenType]bool{
	lexer.TokenFn:          true,
	lexer.TokenLet:         true,
	lexer.TokenIf:          true,
	lexer.TokenWhile:       true,
	lexer.TokenPrint:       true,
	lexer.TokenSay:         true,
	lexer.TokenAdapt:       true,
	lexer.TokenPersonality: true,
	lexer.TokenDecide:      true,
	lexer.TokenReturn:      true,
}

// Unit is one independently parsed top-level unit: either a statement
// (function declarations included) or the structural error that killed it.
type Unit struct {
	Stmt Stmt
	Err  *errors.NexusError
}

type Parser struct {
	tokens      []lexer.Token
	current     int
	file        string
	sourceLines []string
}

func NewParser(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens}
}

func NewParserWithSource(tokens []lexer.Token, source, file string) *Parser {
	return &Parser{
		tokens:      tokens,
		file:        file,
		sourceLines: strings.Split(source, "\n"),
	}
}

// ParseUnits parses every top-level unit, isolating structural errors at
// unit granularity: a failed unit is reported and skipped, and parsing
// resumes at the next unit boundary.
func (p *Parser) ParseUnits() []Unit {
	var units []Unit
	for !p.isAtEnd() {
		units = append(units, p.parseUnit())
	}
	return units
}

// Parse returns the statements of all units that parsed cleanly plus the
// errors of the ones that did not.
func (p *Parser) Parse() ([]Stmt, []*errors.NexusError) {
	var stmts []Stmt
	var errs []*errors.NexusError
	for _, u := range p.ParseUnits() {
		if u.Err != nil {
			errs = append(errs, u.Err)
			continue
		}
		stmts = append(stmts, u.Stmt)
	}
	return stmts, errs
}

func (p *Parser) parseUnit() (unit Unit) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(*errors.NexusError)
			if !ok {
				panic(r)
			}
			unit = Unit{Err: err}
			p.synchronize()
		}
	}()

	if p.match(lexer.TokenFn) {
		return Unit{Stmt: p.function()}
	}
	return Unit{Stmt: p.statement()}
}

// synchronize skips tokens until the next plausible unit boundary.
func (p *Parser) synchronize() {
	depth := 0
	for !p.isAtEnd() {
		switch p.peek().Type {
		case lexer.TokenLBrace:
			depth++
		case lexer.TokenRBrace:
			depth--
			if depth <= 0 {
				p.advance()
				if depth == 0 {
					return
				}
				continue
			}
		default:
			if depth <= 0 && unitStart[p.peek().Type] {
				return
			}
		}
		p.advance()
	}
}

func (p *Parser) statement() Stmt {
	if p.match(lexer.TokenIf) {
		return p.ifStatement()
	}
	if p.match(lexer.TokenWhile) {
		return p.whileStatement()
	}
	if p.check(lexer.TokenPrint) {
		tok := p.advance()
		p.consume(lexer.TokenLParen, "Expect '(' after print")
		expr := p.expression()
		p.consume(lexer.TokenRParen, "Expect ')' after print argument")
		return &PrintStmt{Expr: expr, Token: tok}
	}
	if p.check(lexer.TokenSay) {
		return p.sayStatement()
	}
	if p.check(lexer.TokenAdapt) {
		tok := p.advance()
		p.consume(lexer.TokenLParen, "Expect '(' after adapt")
		signal := p.expression()
		p.consume(lexer.TokenRParen, "Expect ')' after adapt signal")
		return &AdaptStmt{Signal: signal, Token: tok}
	}
	if p.check(lexer.TokenPersonality) {
		return p.personalityStatement()
	}
	if p.check(lexer.TokenDecide) {
		return p.decideStatement()
	}
	if p.match(lexer.TokenLet) {
		nameTok := p.consume(lexer.TokenIdent, "Expect variable name")
		p.consume(lexer.TokenEqual, "Expect '=' after variable name")
		expr := p.expression()
		return &LetStmt{Name: nameTok.Lexeme, Token: nameTok, Expr: expr}
	}
	if p.check(lexer.TokenReturn) {
		tok := p.advance()
		var value Expr
		if !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
			value = p.expression()
		}
		return &ReturnStmt{Value: value, Token: tok}
	}

	// Assignment statement: ident = expr
	if p.check(lexer.TokenIdent) && p.checkNext(lexer.TokenEqual) {
		nameTok := p.advance()
		p.advance() // '='
		value := p.expression()
		return &AssignStmt{Name: nameTok.Lexeme, Token: nameTok, Value: value}
	}

	expr := p.expression()
	return &ExpressionStmt{Expr: expr}
}

func (p *Parser) ifStatement() Stmt {
	condition := p.expression()
	p.consume(lexer.TokenLBrace, "Expect '{' before if body")
	thenBranch := p.blockStatements()
	p.consume(lexer.TokenRBrace, "Expect '}' after if body")

	var elseBranch []Stmt
	if p.match(lexer.TokenElse) {
		if p.match(lexer.TokenIf) {
			elseBranch = []Stmt{p.ifStatement()}
		} else {
			p.consume(lexer.TokenLBrace, "Expect '{' before else body")
			elseBranch = p.blockStatements()
			p.consume(lexer.TokenRBrace, "Expect '}' after else body")
		}
	}
	return &IfStmt{Condition: condition, Then: thenBranch, Else: elseBranch}
}

func (p *Parser) whileStatement() Stmt {
	condition := p.expression()
	p.consume(lexer.TokenLBrace, "Expect '{' before while body")
	body := p.blockStatements()
	p.consume(lexer.TokenRBrace, "Expect '}' after while body")
	return &WhileStmt{Condition: condition, Body: body}
}

func (p *Parser) sayStatement() Stmt {
	tok := p.advance()
	p.consume(lexer.TokenLParen, "Expect '(' after say")
	text := p.expression()
	var emotion Expr
	if p.match(lexer.TokenComma) {
		label := p.consume(lexer.TokenIdent, "Expect 'emotion:' after ','")
		if label.Lexeme != "emotion" {
			panic(p.errorAt(label, fmt.Sprintf("Unknown say option '%s'", label.Lexeme)))
		}
		p.consume(lexer.TokenColon, "Expect ':' after 'emotion'")
		emotion = p.expression()
	}
	p.consume(lexer.TokenRParen, "Expect ')' after say arguments")
	return &SayStmt{Text: text, Emotion: emotion, Token: tok}
}

func (p *Parser) personalityStatement() Stmt {
	tok := p.advance()
	p.consume(lexer.TokenLBrace, "Expect '{' after personality")
	traits := p.traitAssignments()
	p.consume(lexer.TokenRBrace, "Expect '}' after personality traits")
	return &PersonalityStmt{Traits: traits, Token: tok}
}

func (p *Parser) traitAssignments() []TraitAssignment {
	var traits []TraitAssignment
	for !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		nameTok := p.consume(lexer.TokenIdent, "Expect trait name")
		p.consume(lexer.TokenColon, "Expect ':' after trait name")
		value := p.expression()
		traits = append(traits, TraitAssignment{Name: nameTok.Lexeme, Token: nameTok, Value: value})
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	return traits
}

func (p *Parser) decideStatement() Stmt {
	tok := p.advance()
	p.consume(lexer.TokenLBrace, "Expect '{' after decide")

	var branches []DecideBranch
	for p.check(lexer.TokenBranch) && !p.isAtEnd() {
		p.advance()
		p.consume(lexer.TokenLBrace, "Expect '{' after branch")
		weights := p.traitAssignments()
		p.consume(lexer.TokenRBrace, "Expect '}' after branch weights")
		p.consume(lexer.TokenArrow, "Expect '=>' after branch weights")
		p.consume(lexer.TokenLBrace, "Expect '{' before branch body")
		body := p.blockStatements()
		p.consume(lexer.TokenRBrace, "Expect '}' after branch body")
		branches = append(branches, DecideBranch{Weights: weights, Body: body})
	}

	p.consume(lexer.TokenRBrace, "Expect '}' after decide branches")
	if len(branches) == 0 {
		panic(p.errorAt(tok, "decide requires at least one branch"))
	}
	return &DecideStmt{Branches: branches, Token: tok}
}

func (p *Parser) blockStatements() []Stmt {
	var stmts []Stmt
	for !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		if p.match(lexer.TokenFn) {
			stmts = append(stmts, p.function())
		} else {
			stmts = append(stmts, p.statement())
		}
	}
	return stmts
}

func (p *Parser) function() Stmt {
	nameTok := p.consume(lexer.TokenIdent, "Expect function name")
	p.consume(lexer.TokenLParen, "Expect '(' after function name")

	var params []string
	if !p.check(lexer.TokenRParen) {
		params = append(params, p.consume(lexer.TokenIdent, "Expect parameter name").Lexeme)
		for p.match(lexer.TokenComma) {
			params = append(params, p.consume(lexer.TokenIdent, "Expect parameter name").Lexeme)
		}
	}
	p.consume(lexer.TokenRParen, "Expect ')' after parameters")

	if p.match(lexer.TokenArrow) {
		expr := p.expression()
		return &FunctionStmt{
			Name:   nameTok.Lexeme,
			Token:  nameTok,
			Params: params,
			Body:   []Stmt{&ReturnStmt{Value: expr, Token: nameTok}},
		}
	}

	p.consume(lexer.TokenLBrace, "Expect '{' before function body")
	body := p.blockStatements()
	p.consume(lexer.TokenRBrace, "Expect '}' after function body")

	return &FunctionStmt{Name: nameTok.Lexeme, Token: nameTok, Params: params, Body: body}
}

// --- Expression parsing with precedence climbing ---

func (p *Parser) expression() Expr {
	return p.parseBinary(0)
}

func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.unary()
	for {
		tok := p.peek()
		prec, ok := precedence[tok.Type]
		if !ok || prec < minPrec {
			break
		}
		p.advance()
		right := p.parseBinary(prec + 1)
		left = &Binary{Left: left, Operator: tok.Lexeme, Token: tok, Right: right}
	}
	return left
}

func (p *Parser) unary() Expr {
	if p.check(lexer.TokenNot) || p.check(lexer.TokenMinus) {
		tok := p.advance()
		operand := p.unary()
		return &Unary{Operator: tok.Lexeme, Token: tok, Operand: operand}
	}
	return p.call()
}

func (p *Parser) call() Expr {
	expr := p.primary()
	for p.check(lexer.TokenLParen) {
		tok := p.advance()
		expr = p.finishCall(expr, tok)
	}
	return expr
}

func (p *Parser) finishCall(callee Expr, tok lexer.Token) Expr {
	var args []Expr
	if !p.check(lexer.TokenRParen) {
		for {
			args = append(args, p.expression())
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRParen, "Expect ')' after arguments")
	return &Call{Callee: callee, Token: tok, Args: args}
}

func (p *Parser) primary() Expr {
	if p.isAtEnd() {
		panic(p.errorAt(p.peek(), "Unexpected end of input"))
	}
	tok := p.advance()
	switch tok.Type {
	case lexer.TokenInt:
		val, err := strconv.ParseInt(tok.Lexeme, 10, 64)
		if err != nil {
			panic(p.errorAt(tok, fmt.Sprintf("Invalid integer literal '%s'", tok.Lexeme)))
		}
		return &Literal{Value: val, Token: tok}
	case lexer.TokenFloat:
		val, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			panic(p.errorAt(tok, fmt.Sprintf("Invalid float literal '%s'", tok.Lexeme)))
		}
		return &Literal{Value: val, Token: tok}
	case lexer.TokenString:
		return &Literal{Value: tok.Lexeme, Token: tok}
	case lexer.TokenTrue:
		return &Literal{Value: true, Token: tok}
	case lexer.TokenFalse:
		return &Literal{Value: false, Token: tok}
	case lexer.TokenNull:
		return &Literal{Value: nil, Token: tok}
	case lexer.TokenIdent:
		return &Variable{Name: tok.Lexeme, Token: tok}
	case lexer.TokenLParen:
		expr := p.expression()
		p.consume(lexer.TokenRParen, "Expect ')' after expression")
		return expr
	case lexer.TokenKnowledge:
		p.consume(lexer.TokenLParen, "Expect '(' after knowledge")
		query := p.expression()
		p.consume(lexer.TokenRParen, "Expect ')' after knowledge query")
		return &KnowledgeExpr{Query: query, Token: tok}
	case lexer.TokenListen:
		return p.listenExpr(tok)
	case lexer.TokenTrait:
		p.consume(lexer.TokenLParen, "Expect '(' after trait")
		name := p.expression()
		p.consume(lexer.TokenRParen, "Expect ')' after trait name")
		return &TraitExpr{Name: name, Token: tok}
	case lexer.TokenTensor:
		return p.tensorLiteral(tok)
	case lexer.TokenError:
		err := errors.NewLexError(
			fmt.Sprintf("Unexpected character '%s'", tok.Lexeme),
			tok.File, tok.Line, tok.Column,
		)
		panic(p.withSource(err, tok))
	default:
		panic(p.errorAt(tok, fmt.Sprintf("Unexpected token in expression: '%s'", tok.Lexeme)))
	}
}

func (p *Parser) listenExpr(tok lexer.Token) Expr {
	p.consume(lexer.TokenLParen, "Expect '(' after listen")
	var timeout Expr
	if !p.check(lexer.TokenRParen) {
		label := p.consume(lexer.TokenIdent, "Expect 'timeout:' or ')' in listen")
		if label.Lexeme != "timeout" {
			panic(p.errorAt(label, fmt.Sprintf("Unknown listen option '%s'", label.Lexeme)))
		}
		p.consume(lexer.TokenColon, "Expect ':' after 'timeout'")
		timeout = p.expression()
	}
	p.consume(lexer.TokenRParen, "Expect ')' after listen arguments")
	return &ListenExpr{Timeout: timeout, Token: tok}
}

func (p *Parser) tensorLiteral(tok lexer.Token) Expr {
	p.consume(lexer.TokenLBracket, "Expect '[' after tensor")
	var elements []Expr
	for !p.check(lexer.TokenRBracket) && !p.isAtEnd() {
		elements = append(elements, p.expression())
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.consume(lexer.TokenRBracket, "Expect ']' after tensor elements")
	return &TensorExpr{Elements: elements, Token: tok}
}

// --- Utility methods ---

func (p *Parser) match(t lexer.TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) consume(t lexer.TokenType, msg string) lexer.Token {
	if p.check(t) {
		return p.advance()
	}
	tok := p.peek()
	panic(p.errorAt(tok, fmt.Sprintf("%s (got '%s')", msg, tok.Lexeme)))
}

func (p *Parser) errorAt(tok lexer.Token, msg string) *errors.NexusError {
	file := tok.File
	if file == "" {
		file = p.file
	}
	return p.withSource(errors.NewParseError(msg, file, tok.Line, tok.Column), tok)
}

func (p *Parser) withSource(err *errors.NexusError, tok lexer.Token) *errors.NexusError {
	if p.sourceLines != nil && tok.Line > 0 && tok.Line <= len(p.sourceLines) {
		return err.WithSource(p.sourceLines[tok.Line-1])
	}
	return err
}

func (p *Parser) check(t lexer.TokenType) bool {
	if p.isAtEnd() {
		return false
	}
	return p.peek().Type == t
}

func (p *Parser) checkNext(t lexer.TokenType) bool {
	if p.current+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.current+1].Type == t
}

func (p *Parser) advance() lexer.Token {
	if !p.isAtEnd() {
		p.current++
	}
	return p.tokens[p.current-1]
}

func (p *Parser) peek() lexer.Token {
	return p.tokens[p.current]
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == lexer.TokenEOF
}
