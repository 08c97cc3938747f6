package vm

import (
	"fmt"
	"strconv"
	"strings"

	"nexuslang/internal/bytecode"
	"nexuslang/internal/knowledge"
)

// Value is anything the operand stack can hold: nil, bool, int64,
// float64, string, *Function, *Tensor, or *knowledge.Result.
type Value interface{}

// Function wraps a compiled unit as a callable runtime value.
type Function struct {
	Unit *bytecode.CompiledUnit
}

func (f *Function) String() string {
	return fmt.Sprintf("<fn %s/%d>", f.Unit.Name, f.Unit.Arity)
}

// Tensor is the runtime form of a tensor literal. Elements preserve
// source order.
type Tensor struct {
	Elements []Value
}

func (t *Tensor) String() string {
	parts := make([]string, len(t.Elements))
	for i, e := range t.Elements {
		parts[i] = Format(e)
	}
	return "tensor[" + strings.Join(parts, ", ") + "]"
}

// Format renders a value the way print shows it.
func Format(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case *Function:
		return x.String()
	case *Tensor:
		return x.String()
	case *knowledge.Result:
		if len(x.RelatedTopics) == 0 {
			return x.Summary
		}
		return x.Summary + " (related: " + strings.Join(x.RelatedTopics, ", ") + ")"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// TypeName names a value's runtime type for fault messages.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case *Function:
		return "function"
	case *Tensor:
		return "tensor"
	case *knowledge.Result:
		return "knowledge result"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// isTruthy follows the language's boolean coercion: nil and false are
// false, everything else is true.
func isTruthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	default:
		return true
	}
}

// valuesEqual compares two values, coercing int and float so 1 == 1.0.
func valuesEqual(a, b Value) bool {
	if af, aNum := asFloat(a); aNum {
		if bf, bNum := asFloat(b); bNum {
			ai, aInt := a.(int64)
			bi, bInt := b.(int64)
			if aInt && bInt {
				return ai == bi
			}
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
