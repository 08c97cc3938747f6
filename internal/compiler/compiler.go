// internal/compiler/compiler.go
package compiler

import (
	"fmt"

	"nexuslang/internal/bytecode"
	"nexuslang/internal/errors"
	"nexuslang/internal/lexer"
	"nexuslang/internal/parser"
)

// Version is stamped into artifact metadata by the CLI.
const Version = "1.0.0"

// DefaultEmotion is the voice emotion used when say() omits one.
const DefaultEmotion = "neutral"

type globalInfo struct {
	name  string
	slot  uint16
	kind  bytecode.SymbolKind
	arity int // declared parameter count for functions
}

// Session is the shared global scope. A fresh Session compiles a
// standalone program; the REPL reuses one Session across inputs so global
// slots stay stable from line to line.
type Session struct {
	globals []globalInfo
	index   map[string]int // name -> position in globals
}

func NewSession() *Session {
	return &Session{index: map[string]int{}}
}

func (s *Session) lookup(name string) (globalInfo, bool) {
	if i, ok := s.index[name]; ok {
		return s.globals[i], true
	}
	return globalInfo{}, false
}

func (s *Session) define(name string, kind bytecode.SymbolKind, arity int) uint16 {
	if i, ok := s.index[name]; ok {
		// Redefinition keeps the slot; the REPL depends on this.
		s.globals[i].kind = kind
		s.globals[i].arity = arity
		return s.globals[i].slot
	}
	slot := uint16(len(s.globals))
	s.index[name] = len(s.globals)
	s.globals = append(s.globals, globalInfo{name: name, slot: slot, kind: kind, arity: arity})
	return slot
}

type local struct {
	name  string
	depth int
}

// Compiler walks the AST bottom-up and emits bytecode into a CompiledUnit.
// Each function body compiles in its own nested Compiler sharing the
// session's global table.
type Compiler struct {
	unit    *bytecode.CompiledUnit
	session *Session
	file    string

	// Local scope chain; empty at the top level, where names are globals.
	function   *parser.FunctionStmt
	locals     []local
	scopeDepth int
}

func NewCompiler() *Compiler {
	return &Compiler{unit: bytecode.NewUnit("<script>"), session: NewSession()}
}

func NewCompilerWithFile(file string) *Compiler {
	c := NewCompiler()
	c.file = file
	return c
}

// NewSessionCompiler compiles against an existing global session.
func NewSessionCompiler(session *Session) *Compiler {
	return &Compiler{unit: bytecode.NewUnit("<script>"), session: session}
}

// Compile turns a parsed program into a CompiledUnit. Top-level function
// and let declarations are hoisted first so forward references resolve.
// The walk is pure with respect to the AST: no execution, no I/O.
func (c *Compiler) Compile(stmts []parser.Stmt) (unit *bytecode.CompiledUnit, err error) {
	defer func() {
		if r := recover(); r != nil {
			ne, ok := r.(*errors.NexusError)
			if !ok {
				panic(r)
			}
			unit, err = nil, ne
		}
	}()

	c.hoist(stmts)
	for _, stmt := range stmts {
		stmt.Accept(c)
	}
	c.emitOp(bytecode.OpReturn)

	c.recordGlobalSymbols()
	if c.file != "" {
		c.unit.Metadata["source"] = c.file
	}
	return c.unit, nil
}

// hoist pre-registers top-level declarations so that functions can call
// each other and reference globals declared further down the file.
func (c *Compiler) hoist(stmts []parser.Stmt) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *parser.FunctionStmt:
			c.session.define(s.Name, bytecode.SymFunction, len(s.Params))
		case *parser.LetStmt:
			c.session.define(s.Name, bytecode.SymGlobal, 0)
		}
	}
}

func (c *Compiler) recordGlobalSymbols() {
	for _, g := range c.session.globals {
		c.unit.AddSymbol(g.name, g.kind, g.slot)
	}
}

// --- Emit helpers ---

func (c *Compiler) emitOp(op bytecode.OpCode) {
	c.unit.WriteOp(op)
}

func (c *Compiler) emitConstant(constant bytecode.Constant) {
	idx := c.unit.AddConstant(constant)
	c.emitOp(bytecode.OpConstant)
	c.unit.WriteShort(uint16(idx))
}

// emitJump writes op with a placeholder target and returns the position
// to patch once the destination is known.
func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	pos := len(c.unit.Code)
	c.unit.WriteShort(0xffff)
	return pos
}

// patchJump points the placeholder at pos to the current end of code.
// Targets are absolute offsets.
func (c *Compiler) patchJump(pos int) {
	c.unit.PatchShort(pos, uint16(len(c.unit.Code)))
}

func (c *Compiler) fail(kind errors.Kind, tok lexer.Token, format string, args ...interface{}) {
	file := tok.File
	if file == "" {
		file = c.file
	}
	panic(errors.NewCompileError(kind, fmt.Sprintf(format, args...), file, tok.Line, tok.Column))
}

// --- Scope handling ---

func (c *Compiler) inFunction() bool {
	return c.function != nil
}

func (c *Compiler) beginScope() {
	c.scopeDepth++
}

func (c *Compiler) endScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		c.locals = c.locals[:len(c.locals)-1]
		c.emitOp(bytecode.OpPop)
	}
}

// resolveLocal searches the scope chain innermost-first, which is what
// makes shadowing work.
func (c *Compiler) resolveLocal(name string) (int, bool) {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			return i, true
		}
	}
	return 0, false
}

func (c *Compiler) declareLocal(name string) int {
	slot := len(c.locals)
	c.locals = append(c.locals, local{name: name, depth: c.scopeDepth})
	c.unit.AddSymbol(name, bytecode.SymLocal, uint16(slot))
	return slot
}

// --- Statement visitors ---

func (c *Compiler) VisitExpressionStmt(stmt *parser.ExpressionStmt) interface{} {
	stmt.Expr.Accept(c)
	c.emitOp(bytecode.OpPop)
	return nil
}

func (c *Compiler) VisitPrintStmt(stmt *parser.PrintStmt) interface{} {
	stmt.Expr.Accept(c)
	c.emitOp(bytecode.OpPrint)
	return nil
}

func (c *Compiler) VisitLetStmt(stmt *parser.LetStmt) interface{} {
	stmt.Expr.Accept(c)
	if c.inFunction() {
		// The computed value stays on the stack; its position is the
		// local's slot.
		c.declareLocal(stmt.Name)
		return nil
	}
	slot := c.session.define(stmt.Name, bytecode.SymGlobal, 0)
	c.emitOp(bytecode.OpDefineGlobal)
	c.unit.WriteShort(slot)
	return nil
}

func (c *Compiler) VisitAssignStmt(stmt *parser.AssignStmt) interface{} {
	stmt.Value.Accept(c)
	if c.inFunction() {
		if slot, ok := c.resolveLocal(stmt.Name); ok {
			c.emitOp(bytecode.OpSetLocal)
			c.unit.WriteU8(byte(slot))
			c.emitOp(bytecode.OpPop)
			return nil
		}
	}
	g, ok := c.session.lookup(stmt.Name)
	if !ok {
		c.fail(errors.UnresolvedSymbol, stmt.Token, "Assignment to undefined variable '%s'", stmt.Name)
	}
	c.emitOp(bytecode.OpSetGlobal)
	c.unit.WriteShort(g.slot)
	return nil
}

func (c *Compiler) VisitIfStmt(stmt *parser.IfStmt) interface{} {
	stmt.Condition.Accept(c)
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)

	c.beginScope()
	for _, s := range stmt.Then {
		s.Accept(c)
	}
	c.endScope()

	if len(stmt.Else) == 0 {
		c.patchJump(elseJump)
		return nil
	}

	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)

	c.beginScope()
	for _, s := range stmt.Else {
		s.Accept(c)
	}
	c.endScope()
	c.patchJump(endJump)
	return nil
}

func (c *Compiler) VisitWhileStmt(stmt *parser.WhileStmt) interface{} {
	loopStart := len(c.unit.Code)
	stmt.Condition.Accept(c)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)

	c.beginScope()
	for _, s := range stmt.Body {
		s.Accept(c)
	}
	c.endScope()

	c.emitOp(bytecode.OpJump)
	c.unit.WriteShort(uint16(loopStart))
	c.patchJump(exitJump)
	return nil
}

func (c *Compiler) VisitFunctionStmt(stmt *parser.FunctionStmt) interface{} {
	sub := &Compiler{
		unit:     bytecode.NewUnit(stmt.Name),
		session:  c.session,
		file:     c.file,
		function: stmt,
	}
	sub.unit.Arity = len(stmt.Params)

	// Parameters occupy the first local slots.
	for _, param := range stmt.Params {
		sub.declareLocal(param)
	}

	for _, s := range stmt.Body {
		s.Accept(sub)
	}
	// Implicit nil return for bodies that fall off the end.
	sub.emitOp(bytecode.OpNil)
	sub.emitOp(bytecode.OpReturn)

	c.emitConstant(bytecode.UnitConstant(sub.unit))

	slot := c.session.define(stmt.Name, bytecode.SymFunction, len(stmt.Params))
	c.emitOp(bytecode.OpDefineGlobal)
	c.unit.WriteShort(slot)
	return nil
}

func (c *Compiler) VisitReturnStmt(stmt *parser.ReturnStmt) interface{} {
	if stmt.Value != nil {
		stmt.Value.Accept(c)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
	return nil
}

func (c *Compiler) VisitPersonalityStmt(stmt *parser.PersonalityStmt) interface{} {
	if len(stmt.Traits) > 255 {
		c.fail(errors.InvalidConstant, stmt.Token, "personality block has too many traits")
	}
	for _, trait := range stmt.Traits {
		c.emitConstant(bytecode.StringConstant(trait.Name))
		trait.Value.Accept(c)
	}
	c.emitOp(bytecode.OpSetTraits)
	c.unit.WriteU8(byte(len(stmt.Traits)))
	return nil
}

func (c *Compiler) VisitSayStmt(stmt *parser.SayStmt) interface{} {
	stmt.Text.Accept(c)

	// The emotion rides as a constant-pool operand, so it must be a
	// string literal when present.
	emotion := DefaultEmotion
	if stmt.Emotion != nil {
		lit, ok := stmt.Emotion.(*parser.Literal)
		if !ok {
			c.fail(errors.InvalidConstant, stmt.Token, "say emotion must be a string literal")
		}
		s, ok := lit.Value.(string)
		if !ok {
			c.fail(errors.InvalidConstant, lit.Token, "say emotion must be a string literal")
		}
		emotion = s
	}
	idx := c.unit.AddConstant(bytecode.StringConstant(emotion))
	c.emitOp(bytecode.OpVoiceSay)
	c.unit.WriteShort(uint16(idx))
	return nil
}

func (c *Compiler) VisitAdaptStmt(stmt *parser.AdaptStmt) interface{} {
	stmt.Signal.Accept(c)
	c.emitOp(bytecode.OpAdapt)
	return nil
}

func (c *Compiler) VisitDecideStmt(stmt *parser.DecideStmt) interface{} {
	if len(stmt.Branches) > 255 {
		c.fail(errors.InvalidConstant, stmt.Token, "decide has too many branches")
	}

	// Push one score per branch: each branch's weight vector dotted with
	// the live trait vector.
	for _, branch := range stmt.Branches {
		if len(branch.Weights) > 255 {
			c.fail(errors.InvalidConstant, stmt.Token, "branch has too many weights")
		}
		for _, w := range branch.Weights {
			c.emitConstant(bytecode.StringConstant(w.Name))
			w.Value.Accept(c)
		}
		c.emitOp(bytecode.OpScore)
		c.unit.WriteU8(byte(len(branch.Weights)))
	}

	// OpDecide consumes the scores and jumps through the table that
	// immediately follows it.
	c.emitOp(bytecode.OpDecide)
	c.unit.WriteU8(byte(len(stmt.Branches)))
	table := make([]int, len(stmt.Branches))
	for i := range stmt.Branches {
		table[i] = len(c.unit.Code)
		c.unit.WriteShort(0xffff)
	}

	endJumps := make([]int, 0, len(stmt.Branches))
	for i, branch := range stmt.Branches {
		c.unit.PatchShort(table[i], uint16(len(c.unit.Code)))
		c.beginScope()
		for _, s := range branch.Body {
			s.Accept(c)
		}
		c.endScope()
		endJumps = append(endJumps, c.emitJump(bytecode.OpJump))
	}
	for _, pos := range endJumps {
		c.patchJump(pos)
	}
	return nil
}

// --- Expression visitors ---

func (c *Compiler) VisitLiteralExpr(expr *parser.Literal) interface{} {
	switch v := expr.Value.(type) {
	case int64:
		c.emitConstant(bytecode.IntConstant(v))
	case float64:
		c.emitConstant(bytecode.FloatConstant(v))
	case string:
		c.emitConstant(bytecode.StringConstant(v))
	case bool:
		// Booleans have dedicated opcodes; the constant pool stays
		// closed over int/float/string/unit.
		if v {
			c.emitOp(bytecode.OpTrue)
		} else {
			c.emitOp(bytecode.OpFalse)
		}
	case nil:
		c.emitOp(bytecode.OpNil)
	default:
		c.fail(errors.InvalidConstant, expr.Token, "Literal cannot be pooled: %v", expr.Value)
	}
	return nil
}

func (c *Compiler) VisitBinaryExpr(expr *parser.Binary) interface{} {
	expr.Left.Accept(c)
	expr.Right.Accept(c)
	switch expr.Operator {
	case "+":
		c.emitOp(bytecode.OpAdd)
	case "-":
		c.emitOp(bytecode.OpSub)
	case "*":
		c.emitOp(bytecode.OpMul)
	case "/":
		c.emitOp(bytecode.OpDiv)
	case "%":
		c.emitOp(bytecode.OpMod)
	case "==":
		c.emitOp(bytecode.OpEqual)
	case "!=":
		c.emitOp(bytecode.OpNotEqual)
	case ">":
		c.emitOp(bytecode.OpGreater)
	case "<":
		c.emitOp(bytecode.OpLess)
	case ">=":
		c.emitOp(bytecode.OpGreaterEqual)
	case "<=":
		c.emitOp(bytecode.OpLessEqual)
	case "&&":
		c.emitOp(bytecode.OpAnd)
	case "||":
		c.emitOp(bytecode.OpOr)
	default:
		c.fail(errors.InvalidConstant, expr.Token, "Unknown operator '%s'", expr.Operator)
	}
	return nil
}

func (c *Compiler) VisitUnaryExpr(expr *parser.Unary) interface{} {
	expr.Operand.Accept(c)
	switch expr.Operator {
	case "-":
		c.emitOp(bytecode.OpNegate)
	case "!":
		c.emitOp(bytecode.OpNot)
	}
	return nil
}

func (c *Compiler) VisitVariableExpr(expr *parser.Variable) interface{} {
	if c.inFunction() {
		if slot, ok := c.resolveLocal(expr.Name); ok {
			c.emitOp(bytecode.OpGetLocal)
			c.unit.WriteU8(byte(slot))
			return nil
		}
	}
	g, ok := c.session.lookup(expr.Name)
	if !ok {
		c.fail(errors.UnresolvedSymbol, expr.Token, "Undefined variable '%s'", expr.Name)
	}
	c.emitOp(bytecode.OpGetGlobal)
	c.unit.WriteShort(g.slot)
	return nil
}

func (c *Compiler) VisitCallExpr(expr *parser.Call) interface{} {
	if len(expr.Args) > 255 {
		c.fail(errors.ArityMismatch, expr.Token, "Too many call arguments")
	}

	// When the callee resolves to a declared function, check the call
	// arity at compile time.
	if v, ok := expr.Callee.(*parser.Variable); ok {
		shadowed := false
		if c.inFunction() {
			_, shadowed = c.resolveLocal(v.Name)
		}
		if !shadowed {
			if g, found := c.session.lookup(v.Name); found && g.kind == bytecode.SymFunction {
				if g.arity != len(expr.Args) {
					c.fail(errors.ArityMismatch, expr.Token,
						"Function '%s' expects %d argument(s), got %d", v.Name, g.arity, len(expr.Args))
				}
			}
		}
	}

	for _, arg := range expr.Args {
		arg.Accept(c)
	}
	expr.Callee.Accept(c)
	c.emitOp(bytecode.OpCall)
	c.unit.WriteU8(byte(len(expr.Args)))
	return nil
}

func (c *Compiler) VisitTensorExpr(expr *parser.TensorExpr) interface{} {
	if len(expr.Elements) > 0xffff {
		c.fail(errors.InvalidConstant, expr.Token, "Tensor literal too large")
	}
	for _, elem := range expr.Elements {
		elem.Accept(c)
	}
	c.emitOp(bytecode.OpTensor)
	c.unit.WriteShort(uint16(len(expr.Elements)))
	return nil
}

func (c *Compiler) VisitKnowledgeExpr(expr *parser.KnowledgeExpr) interface{} {
	// The opcode takes a constant-pool string operand, so the query must
	// be a string literal.
	lit, ok := expr.Query.(*parser.Literal)
	if !ok {
		c.fail(errors.InvalidConstant, expr.Token, "knowledge query must be a string literal")
	}
	query, ok := lit.Value.(string)
	if !ok {
		c.fail(errors.InvalidConstant, lit.Token, "knowledge query must be a string literal")
	}
	idx := c.unit.AddConstant(bytecode.StringConstant(query))
	c.emitOp(bytecode.OpKnowledgeQuery)
	c.unit.WriteShort(uint16(idx))
	return nil
}

func (c *Compiler) VisitListenExpr(expr *parser.ListenExpr) interface{} {
	// Timeout seconds ride as a float constant; 0 means no timeout.
	seconds := 0.0
	if expr.Timeout != nil {
		lit, ok := expr.Timeout.(*parser.Literal)
		if !ok {
			c.fail(errors.InvalidConstant, expr.Token, "listen timeout must be a numeric literal")
		}
		switch v := lit.Value.(type) {
		case int64:
			seconds = float64(v)
		case float64:
			seconds = v
		default:
			c.fail(errors.InvalidConstant, lit.Token, "listen timeout must be a numeric literal")
		}
	}
	idx := c.unit.AddConstant(bytecode.FloatConstant(seconds))
	c.emitOp(bytecode.OpVoiceListen)
	c.unit.WriteShort(uint16(idx))
	return nil
}

func (c *Compiler) VisitTraitExpr(expr *parser.TraitExpr) interface{} {
	lit, ok := expr.Name.(*parser.Literal)
	if !ok {
		c.fail(errors.InvalidConstant, expr.Token, "trait name must be a string literal")
	}
	name, ok := lit.Value.(string)
	if !ok {
		c.fail(errors.InvalidConstant, lit.Token, "trait name must be a string literal")
	}
	idx := c.unit.AddConstant(bytecode.StringConstant(name))
	c.emitOp(bytecode.OpGetTrait)
	c.unit.WriteShort(uint16(idx))
	return nil
}
