package cheatvm

import "fmt"

// CodeType is the decoded opcode number. Base opcodes use one nibble,
// extended opcodes two and double-extended opcodes three.
type CodeType uint32

const (
	OpStoreStatic               CodeType = 0x0
	OpBeginConditional          CodeType = 0x1
	OpEndConditional            CodeType = 0x2
	OpControlLoop               CodeType = 0x3
	OpLoadRegisterStatic        CodeType = 0x4
	OpLoadRegisterMemory        CodeType = 0x5
	OpStoreStaticToAddress      CodeType = 0x6
	OpPerformArithmeticStatic   CodeType = 0x7
	OpBeginKeypressConditional  CodeType = 0x8
	OpPerformArithmeticRegister CodeType = 0x9
	OpStoreRegisterToAddress    CodeType = 0xA
	OpReserved11                CodeType = 0xB

	// OpExtendedWidth marks a leading nibble that is followed by a second nibble.
	OpExtendedWidth CodeType = 0xC

	OpBeginRegisterConditional         CodeType = 0xC0
	OpSaveRestoreRegister              CodeType = 0xC1
	OpSaveRestoreRegisterMask          CodeType = 0xC2
	OpReadWriteStaticRegister          CodeType = 0xC3
	OpBeginExtendedKeypressConditional CodeType = 0xC4

	// OpDoubleExtendedWidth marks an extended code followed by a third nibble.
	OpDoubleExtendedWidth CodeType = 0xF0

	OpPauseProcess  CodeType = 0xFF0
	OpResumeProcess CodeType = 0xFF1
	OpDebugLog      CodeType = 0xFFF
)

// OpcodeNames maps opcode values to their names
var OpcodeNames = map[CodeType]string{
	OpStoreStatic:               "StoreStatic",
	OpBeginConditional:          "BeginConditional",
	OpEndConditional:            "EndConditional",
	OpControlLoop:               "ControlLoop",
	OpLoadRegisterStatic:        "LoadRegisterStatic",
	OpLoadRegisterMemory:        "LoadRegisterMemory",
	OpStoreStaticToAddress:      "StoreStaticToAddress",
	OpPerformArithmeticStatic:   "PerformArithmeticStatic",
	OpBeginKeypressConditional:  "BeginKeypressConditional",
	OpPerformArithmeticRegister: "PerformArithmeticRegister",
	OpStoreRegisterToAddress:    "StoreRegisterToAddress",

	OpBeginRegisterConditional:         "BeginRegisterConditional",
	OpSaveRestoreRegister:              "SaveRestoreRegister",
	OpSaveRestoreRegisterMask:          "SaveRestoreRegisterMask",
	OpReadWriteStaticRegister:          "ReadWriteStaticRegister",
	OpBeginExtendedKeypressConditional: "BeginExtendedKeypressConditional",

	OpPauseProcess:  "PauseProcess",
	OpResumeProcess: "ResumeProcess",
	OpDebugLog:      "DebugLog",
}

func (c CodeType) String() string {
	if name, ok := OpcodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(%#x)", uint32(c))
}

const (
	NumRegisters = 0x10
	// MaxProgramOpcodes bounds the concatenated program of all enabled cheats.
	MaxProgramOpcodes = 0x400
)

// MemoryAccessType selects the base a relative address is resolved against.
type MemoryAccessType uint8

const (
	MemoryMainNso     MemoryAccessType = 0
	MemoryHeap        MemoryAccessType = 1
	MemoryAlias       MemoryAccessType = 2
	MemoryAslr        MemoryAccessType = 3
	MemoryNonRelative MemoryAccessType = 4
)

func (m MemoryAccessType) String() string {
	switch m {
	case MemoryMainNso:
		return "main"
	case MemoryHeap:
		return "heap"
	case MemoryAlias:
		return "alias"
	case MemoryAslr:
		return "aslr"
	case MemoryNonRelative:
		return "abs"
	}
	return fmt.Sprintf("mem%d", uint8(m))
}

type ConditionalComparisonType uint8

const (
	CondGT ConditionalComparisonType = 1
	CondGE ConditionalComparisonType = 2
	CondLT ConditionalComparisonType = 3
	CondLE ConditionalComparisonType = 4
	CondEQ ConditionalComparisonType = 5
	CondNE ConditionalComparisonType = 6
)

var condSymbols = map[ConditionalComparisonType]string{
	CondGT: ">", CondGE: ">=", CondLT: "<", CondLE: "<=", CondEQ: "==", CondNE: "!=",
}

func (c ConditionalComparisonType) String() string {
	if s, ok := condSymbols[c]; ok {
		return s
	}
	return fmt.Sprintf("cond%d", uint8(c))
}

// Holds reports whether lhs <cond> rhs. Unknown conditions never hold.
func (c ConditionalComparisonType) Holds(lhs, rhs uint64) bool {
	switch c {
	case CondGT:
		return lhs > rhs
	case CondGE:
		return lhs >= rhs
	case CondLT:
		return lhs < rhs
	case CondLE:
		return lhs <= rhs
	case CondEQ:
		return lhs == rhs
	case CondNE:
		return lhs != rhs
	}
	return false
}

type RegisterArithmeticType uint8

const (
	MathAdd        RegisterArithmeticType = 0
	MathSub        RegisterArithmeticType = 1
	MathMul        RegisterArithmeticType = 2
	MathLeftShift  RegisterArithmeticType = 3
	MathRightShift RegisterArithmeticType = 4
	MathLogicalAnd RegisterArithmeticType = 5
	MathLogicalOr  RegisterArithmeticType = 6
	MathLogicalNot RegisterArithmeticType = 7
	MathLogicalXor RegisterArithmeticType = 8
	MathNone       RegisterArithmeticType = 9
	MathFloatAdd   RegisterArithmeticType = 10
	MathFloatSub   RegisterArithmeticType = 11
	MathFloatMul   RegisterArithmeticType = 12
	MathFloatDiv   RegisterArithmeticType = 13
)

var mathNames = []string{"add", "sub", "mul", "shl", "shr", "and", "or", "not", "xor", "mov", "fadd", "fsub", "fmul", "fdiv"}

func (m RegisterArithmeticType) String() string {
	if int(m) < len(mathNames) {
		return mathNames[m]
	}
	return fmt.Sprintf("math%d", uint8(m))
}

type StoreRegisterOffsetType uint8

const (
	OffsetNone      StoreRegisterOffsetType = 0
	OffsetReg       StoreRegisterOffsetType = 1
	OffsetImm       StoreRegisterOffsetType = 2
	OffsetMemReg    StoreRegisterOffsetType = 3
	OffsetMemImm    StoreRegisterOffsetType = 4
	OffsetMemImmReg StoreRegisterOffsetType = 5
)

type CompareRegisterValueType uint8

const (
	CompareMemoryRelAddr   CompareRegisterValueType = 0
	CompareMemoryOfsReg    CompareRegisterValueType = 1
	CompareRegisterRelAddr CompareRegisterValueType = 2
	CompareRegisterOfsReg  CompareRegisterValueType = 3
	CompareStaticValue     CompareRegisterValueType = 4
	CompareOtherRegister   CompareRegisterValueType = 5
)

type SaveRestoreRegisterOpType uint8

const (
	SaveRestoreRestore    SaveRestoreRegisterOpType = 0
	SaveRestoreSave       SaveRestoreRegisterOpType = 1
	SaveRestoreClearSaved SaveRestoreRegisterOpType = 2
	SaveRestoreClearRegs  SaveRestoreRegisterOpType = 3
)

var saveRestoreNames = []string{"restore", "save", "clear_saved", "clear_regs"}

func (s SaveRestoreRegisterOpType) String() string {
	if int(s) < len(saveRestoreNames) {
		return saveRestoreNames[s]
	}
	return fmt.Sprintf("op%d", uint8(s))
}

type DebugLogValueType uint8

const (
	DebugLogMemoryRelAddr   DebugLogValueType = 0
	DebugLogMemoryOfsReg    DebugLogValueType = 1
	DebugLogRegisterRelAddr DebugLogValueType = 2
	DebugLogRegisterOfsReg  DebugLogValueType = 3
	DebugLogRegisterValue   DebugLogValueType = 4
)
