package bytecode

// OpCode is a one-byte operation selector. The VM dispatches through a
// fixed 256-entry table, so every value of this byte is either a defined
// opcode or an IllegalOpcode fault.
type OpCode byte

const (
	// Constants and stack
	OpConstant OpCode = iota // u16 constant index
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpDup

	// Arithmetic. Integers wrap two's-complement; floats follow IEEE-754.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNegate

	// Comparison and logic
	OpEqual
	OpNotEqual
	OpGreater
	OpLess
	OpGreaterEqual
	OpLessEqual
	OpAnd
	OpOr
	OpNot

	// Variables
	OpDefineGlobal // u16 global slot
	OpGetGlobal    // u16 global slot
	OpSetGlobal    // u16 global slot
	OpGetLocal     // u8 local slot
	OpSetLocal     // u8 local slot

	// Control flow. Jump targets are absolute u16 code offsets.
	OpJump        // u16 target
	OpJumpIfFalse // u16 target

	// Functions
	OpCall // u8 argument count
	OpReturn

	// Output
	OpPrint

	// Tensors
	OpTensor // u16 element count

	// Personality
	OpGetTrait  // u16 constant index (trait name string)
	OpSetTraits // u8 pair count; pops (name, value) pairs
	OpAdapt     // pops the feedback signal
	OpScore     // u8 pair count; pops (name, weight) pairs, pushes dot product
	OpDecide    // u8 branch count, then u16 target per branch; pops the scores

	// External collaborators
	OpKnowledgeQuery // u16 constant index (query string)
	OpVoiceSay       // u16 constant index (emotion string); pops the text
	OpVoiceListen    // u16 constant index (timeout seconds, float constant)
)

var opNames = map[OpCode]string{
	OpConstant:       "CONSTANT",
	OpNil:            "NIL",
	OpTrue:           "TRUE",
	OpFalse:          "FALSE",
	OpPop:            "POP",
	OpDup:            "DUP",
	OpAdd:            "ADD",
	OpSub:            "SUB",
	OpMul:            "MUL",
	OpDiv:            "DIV",
	OpMod:            "MOD",
	OpNegate:         "NEGATE",
	OpEqual:          "EQUAL",
	OpNotEqual:       "NOT_EQUAL",
	OpGreater:        "GREATER",
	OpLess:           "LESS",
	OpGreaterEqual:   "GREATER_EQUAL",
	OpLessEqual:      "LESS_EQUAL",
	OpAnd:            "AND",
	OpOr:             "OR",
	OpNot:            "NOT",
	OpDefineGlobal:   "DEFINE_GLOBAL",
	OpGetGlobal:      "GET_GLOBAL",
	OpSetGlobal:      "SET_GLOBAL",
	OpGetLocal:       "GET_LOCAL",
	OpSetLocal:       "SET_LOCAL",
	OpJump:           "JUMP",
	OpJumpIfFalse:    "JUMP_IF_FALSE",
	OpCall:           "CALL",
	OpReturn:         "RETURN",
	OpPrint:          "PRINT",
	OpTensor:         "TENSOR",
	OpGetTrait:       "GET_TRAIT",
	OpSetTraits:      "SET_TRAITS",
	OpAdapt:          "ADAPT",
	OpScore:          "SCORE",
	OpDecide:         "DECIDE",
	OpKnowledgeQuery: "KNOWLEDGE_QUERY",
	OpVoiceSay:       "VOICE_SAY",
	OpVoiceListen:    "VOICE_LISTEN",
}

func (op OpCode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "ILLEGAL"
}
