package bytecode

import (
	"fmt"
	"math"
)

// ConstKind tags a constant pool entry. The set is closed: integers,
// floats, strings, and nested compiled units (functions).
type ConstKind byte

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstString
	ConstUnit
)

// Constant is one deduplicated constant pool entry. Bytecode refers to
// constants by index, never by pointer.
type Constant struct {
	Kind  ConstKind
	Int   int64
	Float float64
	Str   string
	Unit  *CompiledUnit // function body for ConstUnit entries
}

func IntConstant(v int64) Constant      { return Constant{Kind: ConstInt, Int: v} }
func FloatConstant(v float64) Constant  { return Constant{Kind: ConstFloat, Float: v} }
func StringConstant(v string) Constant  { return Constant{Kind: ConstString, Str: v} }
func UnitConstant(u *CompiledUnit) Constant {
	return Constant{Kind: ConstUnit, Unit: u}
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("%g", c.Float)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstUnit:
		return fmt.Sprintf("<fn %s/%d>", c.Unit.Name, c.Unit.Arity)
	}
	return "<invalid>"
}

// SymbolKind classifies a symbol table entry.
type SymbolKind byte

const (
	SymGlobal SymbolKind = iota
	SymLocal
	SymFunction
)

func (k SymbolKind) String() string {
	switch k {
	case SymGlobal:
		return "global"
	case SymLocal:
		return "local"
	case SymFunction:
		return "function"
	}
	return "unknown"
}

// Symbol records a resolved name. Bytecode already carries resolved slot
// indices; the symbol table travels in the artifact for introspection and
// debugging only.
type Symbol struct {
	Name string
	Kind SymbolKind
	Slot uint16
}

// CompiledUnit is the compiler's output: a flat instruction stream, its
// constant pool and symbol table, plus free-form metadata. Function
// bodies are nested units stored in the constant pool.
type CompiledUnit struct {
	Name      string
	Arity     int
	Code      []byte
	Constants []Constant
	Symbols   []Symbol
	Metadata  map[string]string
}

func NewUnit(name string) *CompiledUnit {
	return &CompiledUnit{
		Name:     name,
		Metadata: map[string]string{},
	}
}

func (u *CompiledUnit) WriteOp(op OpCode) {
	u.Code = append(u.Code, byte(op))
}

// WriteU8 appends a one-byte operand.
func (u *CompiledUnit) WriteU8(b byte) {
	u.Code = append(u.Code, b)
}

// WriteShort appends a big-endian u16 operand.
func (u *CompiledUnit) WriteShort(v uint16) {
	u.Code = append(u.Code, byte(v>>8), byte(v))
}

// PatchShort overwrites the two bytes at pos with a big-endian u16.
// Used for jump back-patching.
func (u *CompiledUnit) PatchShort(pos int, v uint16) {
	u.Code[pos] = byte(v >> 8)
	u.Code[pos+1] = byte(v)
}

// AddConstant interns a constant and returns its pool index. Scalar and
// string constants deduplicate by value; nested units are always distinct.
func (u *CompiledUnit) AddConstant(c Constant) int {
	if c.Kind != ConstUnit {
		for i, existing := range u.Constants {
			if existing.Kind != c.Kind {
				continue
			}
			switch c.Kind {
			case ConstInt:
				if existing.Int == c.Int {
					return i
				}
			case ConstFloat:
				// Bit comparison keeps -0.0 and 0.0 distinct, which
				// preserves byte-identical serialization.
				if math.Float64bits(existing.Float) == math.Float64bits(c.Float) {
					return i
				}
			case ConstString:
				if existing.Str == c.Str {
					return i
				}
			}
		}
	}
	u.Constants = append(u.Constants, c)
	return len(u.Constants) - 1
}

// AddSymbol records a resolved name in the debug symbol table.
func (u *CompiledUnit) AddSymbol(name string, kind SymbolKind, slot uint16) {
	u.Symbols = append(u.Symbols, Symbol{Name: name, Kind: kind, Slot: slot})
}

// GlobalCount reports how many global slots the unit references, derived
// from the symbol table.
func (u *CompiledUnit) GlobalCount() int {
	max := -1
	for _, s := range u.Symbols {
		if (s.Kind == SymGlobal || s.Kind == SymFunction) && int(s.Slot) > max {
			max = int(s.Slot)
		}
	}
	return max + 1
}
