// internal/parser/ast.go
package parser

import "nexuslang/internal/lexer"

type Expr interface {
	Accept(visitor ExprVisitor) interface{}
}

// Literal expression: 42, 2.5, "text", true, null
type Literal struct {
	Value interface{}
	Token lexer.Token
}

func (l *Literal) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitLiteralExpr(l)
}

// Binary expression: a + b
type Binary struct {
	Left     Expr
	Operator string
	Token    lexer.Token
	Right    Expr
}

func (b *Binary) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitBinaryExpr(b)
}

// Unary expression: !x, -x
type Unary struct {
	Operator string
	Token    lexer.Token
	Operand  Expr
}

func (u *Unary) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitUnaryExpr(u)
}

// Variable expression: x
type Variable struct {
	Name  string
	Token lexer.Token
}

func (v *Variable) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitVariableExpr(v)
}

// Call expression: callee(args...)
type Call struct {
	Callee Expr
	Token  lexer.Token
	Args   []Expr
}

func (c *Call) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitCallExpr(c)
}

// Tensor literal: tensor [1, 2.5, 3]
type TensorExpr struct {
	Elements []Expr
	Token    lexer.Token
}

func (t *TensorExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitTensorExpr(t)
}

// Knowledge query: knowledge("quantum entanglement")
type KnowledgeExpr struct {
	Query Expr
	Token lexer.Token
}

func (k *KnowledgeExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitKnowledgeExpr(k)
}

// Voice input: listen() or listen(timeout: 5)
type ListenExpr struct {
	Timeout Expr // nil means no timeout
	Token   lexer.Token
}

func (l *ListenExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitListenExpr(l)
}

// Trait read: trait("curiosity")
type TraitExpr struct {
	Name  Expr
	Token lexer.Token
}

func (t *TraitExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitTraitExpr(t)
}

type ExprVisitor interface {
	VisitLiteralExpr(expr *Literal) interface{}
	VisitBinaryExpr(expr *Binary) interface{}
	VisitUnaryExpr(expr *Unary) interface{}
	VisitVariableExpr(expr *Variable) interface{}
	VisitCallExpr(expr *Call) interface{}
	VisitTensorExpr(expr *TensorExpr) interface{}
	VisitKnowledgeExpr(expr *KnowledgeExpr) interface{}
	VisitListenExpr(expr *ListenExpr) interface{}
	VisitTraitExpr(expr *TraitExpr) interface{}
}
