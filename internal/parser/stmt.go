// internal/parser/stmt.go
package parser

import "nexuslang/internal/lexer"

type Stmt interface {
	Accept(visitor StmtVisitor) interface{}
}

type ExpressionStmt struct {
	Expr Expr
}

func (s *ExpressionStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitExpressionStmt(s)
}

type PrintStmt struct {
	Expr  Expr
	Token lexer.Token
}

func (s *PrintStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitPrintStmt(s)
}

type LetStmt struct {
	Name  string
	Token lexer.Token
	Expr  Expr
}

func (s *LetStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitLetStmt(s)
}

type AssignStmt struct {
	Name  string
	Token lexer.Token
	Value Expr
}

func (s *AssignStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitAssignStmt(s)
}

type IfStmt struct {
	Condition Expr
	Then      []Stmt
	Else      []Stmt
}

func (s *IfStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitIfStmt(s)
}

type WhileStmt struct {
	Condition Expr
	Body      []Stmt
}

func (s *WhileStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitWhileStmt(s)
}

type FunctionStmt struct {
	Name   string
	Token  lexer.Token
	Params []string
	Body   []Stmt
}

func (s *FunctionStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitFunctionStmt(s)
}

type ReturnStmt struct {
	Value Expr // nil for a bare return
	Token lexer.Token
}

func (s *ReturnStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitReturnStmt(s)
}

// PersonalityStmt declares or updates agent traits:
//
//	personality { curiosity: 0.8, analytical: 0.5 }
type PersonalityStmt struct {
	Traits []TraitAssignment
	Token  lexer.Token
}

type TraitAssignment struct {
	Name  string
	Token lexer.Token
	Value Expr
}

func (s *PersonalityStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitPersonalityStmt(s)
}

// SayStmt emits speech: say(expr) or say(expr, emotion: "happy")
type SayStmt struct {
	Text    Expr
	Emotion Expr // nil means the default emotion
	Token   lexer.Token
}

func (s *SayStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitSayStmt(s)
}

// AdaptStmt feeds a reinforcement signal into the trait engine: adapt(1.0)
type AdaptStmt struct {
	Signal Expr
	Token  lexer.Token
}

func (s *AdaptStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitAdaptStmt(s)
}

// DecideStmt selects one branch by scoring each branch's weight vector
// against the current trait vector:
//
//	decide {
//	    branch { curiosity: 1.0 } => { ... }
//	    branch { analytical: 1.0 } => { ... }
//	}
type DecideStmt struct {
	Branches []DecideBranch
	Token    lexer.Token
}

type DecideBranch struct {
	Weights []TraitAssignment
	Body    []Stmt
}

func (s *DecideStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitDecideStmt(s)
}

type StmtVisitor interface {
	VisitExpressionStmt(stmt *ExpressionStmt) interface{}
	VisitPrintStmt(stmt *PrintStmt) interface{}
	VisitLetStmt(stmt *LetStmt) interface{}
	VisitAssignStmt(stmt *AssignStmt) interface{}
	VisitIfStmt(stmt *IfStmt) interface{}
	VisitWhileStmt(stmt *WhileStmt) interface{}
	VisitFunctionStmt(stmt *FunctionStmt) interface{}
	VisitReturnStmt(stmt *ReturnStmt) interface{}
	VisitPersonalityStmt(stmt *PersonalityStmt) interface{}
	VisitSayStmt(stmt *SayStmt) interface{}
	VisitAdaptStmt(stmt *AdaptStmt) interface{}
	VisitDecideStmt(stmt *DecideStmt) interface{}
}
