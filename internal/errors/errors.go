// internal/errors/errors.go
package errors

import (
	"fmt"
	"strings"
)

// ErrorType is the coarse error category. It decides the CLI exit code.
type ErrorType string

const (
	LexError     ErrorType = "LexError"
	ParseError   ErrorType = "ParseError"
	CompileError ErrorType = "CompileError"
	FormatError  ErrorType = "FormatError"
	RuntimeFault ErrorType = "RuntimeFault"
)

// Kind refines an ErrorType into the specific failure.
type Kind string

const (
	// Lexing
	UnexpectedCharacter Kind = "UnexpectedCharacter"

	// Parsing
	SyntaxError Kind = "SyntaxError"

	// Compilation
	UnresolvedSymbol Kind = "UnresolvedSymbol"
	InvalidConstant  Kind = "InvalidConstant"
	ArityMismatch    Kind = "ArityMismatch"

	// Binary container
	BadMagic           Kind = "BadMagic"
	UnsupportedVersion Kind = "UnsupportedVersion"
	TruncatedSection   Kind = "TruncatedSection"

	// Runtime
	StackUnderflow      Kind = "StackUnderflow"
	StackOverflow       Kind = "StackOverflow"
	IllegalOpcode       Kind = "IllegalOpcode"
	TypeMismatch        Kind = "TypeMismatch"
	DivisionByZero      Kind = "DivisionByZero"
	InvalidJump         Kind = "InvalidJump"
	UnknownTrait        Kind = "UnknownTrait"
	CollaboratorTimeout Kind = "CollaboratorTimeout"
	CollaboratorFailed  Kind = "CollaboratorFailed"
)

// SourceLocation points into the original source text.
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

// NexusError is the structured error value carried through the whole
// pipeline. Lex/parse/compile errors have a source location; runtime
// faults have an opcode and a program counter instead.
type NexusError struct {
	Type     ErrorType
	Kind     Kind
	Message  string
	Location SourceLocation
	Source   string // source line the error points at, if available

	// Runtime fault context
	Opcode byte
	PC     int
}

func (e *NexusError) Error() string {
	var sb strings.Builder

	if e.Kind != "" && string(e.Kind) != string(e.Type) {
		sb.WriteString(fmt.Sprintf("%s (%s): %s", e.Type, e.Kind, e.Message))
	} else {
		sb.WriteString(fmt.Sprintf("%s: %s", e.Type, e.Message))
	}

	if e.Type == RuntimeFault {
		sb.WriteString(fmt.Sprintf("\n  at opcode 0x%02x, pc=%d", e.Opcode, e.PC))
		return sb.String()
	}

	if e.Location.Line > 0 {
		file := e.Location.File
		if file == "" {
			file = "<input>"
		}
		sb.WriteString(fmt.Sprintf("\n  at %s:%d:%d", file, e.Location.Line, e.Location.Column))

		if e.Source != "" {
			prefix := fmt.Sprintf("%d | ", e.Location.Line)
			sb.WriteString(fmt.Sprintf("\n\n  %s%s\n", prefix, e.Source))
			sb.WriteString("  " + strings.Repeat(" ", len(prefix)))
			if e.Location.Column > 1 {
				sb.WriteString(strings.Repeat(" ", e.Location.Column-1))
			}
			sb.WriteString("^")
		}
	}

	return sb.String()
}

// WithSource attaches the offending source line for caret display.
func (e *NexusError) WithSource(source string) *NexusError {
	e.Source = source
	return e
}

func NewLexError(message, file string, line, column int) *NexusError {
	return &NexusError{
		Type:     LexError,
		Kind:     UnexpectedCharacter,
		Message:  message,
		Location: SourceLocation{File: file, Line: line, Column: column},
	}
}

func NewParseError(message, file string, line, column int) *NexusError {
	return &NexusError{
		Type:     ParseError,
		Kind:     SyntaxError,
		Message:  message,
		Location: SourceLocation{File: file, Line: line, Column: column},
	}
}

func NewCompileError(kind Kind, message, file string, line, column int) *NexusError {
	return &NexusError{
		Type:     CompileError,
		Kind:     kind,
		Message:  message,
		Location: SourceLocation{File: file, Line: line, Column: column},
	}
}

func NewFormatError(kind Kind, message string) *NexusError {
	return &NexusError{Type: FormatError, Kind: kind, Message: message}
}

func NewRuntimeFault(kind Kind, message string, opcode byte, pc int) *NexusError {
	return &NexusError{Type: RuntimeFault, Kind: kind, Message: message, Opcode: opcode, PC: pc}
}

// IsType reports whether err is a *NexusError of the given category.
func IsType(err error, t ErrorType) bool {
	ne, ok := err.(*NexusError)
	return ok && ne.Type == t
}

// IsKind reports whether err is a *NexusError with the given kind.
func IsKind(err error, k Kind) bool {
	ne, ok := err.(*NexusError)
	return ok && ne.Kind == k
}
