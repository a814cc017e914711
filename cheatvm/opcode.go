package cheatvm

import (
	"fmt"
	"strings"
)

// Opcode is one decoded instruction. The concrete types below are the only
// implementations.
type Opcode interface {
	Type() CodeType
	// BeginsConditional is true for every opcode that opens a conditional
	// block and therefore raises the condition depth.
	BeginsConditional() bool
	String() string
	encode() []uint32
}

type StoreStatic struct {
	Width          uint8
	Mem            MemoryAccessType
	OffsetRegister uint8
	RelAddress     uint64
	Value          uint64
}

type BeginConditional struct {
	Width         uint8
	Mem           MemoryAccessType
	Cond          ConditionalComparisonType
	IncludeOfsReg bool
	OfsRegIndex   uint8
	RelAddress    uint64
	Value         uint64
}

type EndConditional struct {
	IsElse bool
}

type ControlLoop struct {
	StartLoop bool
	RegIndex  uint8
	NumIters  uint32
}

type LoadRegisterStatic struct {
	RegIndex uint8
	Value    uint64
}

// LoadRegisterMemory.LoadFromReg selects the address mode: 0 region+rel,
// 1 reg[RegIndex]+rel, 2 reg[OffsetRegister]+rel, 3 region+reg[OffsetRegister]+rel.
type LoadRegisterMemory struct {
	Width          uint8
	Mem            MemoryAccessType
	RegIndex       uint8
	LoadFromReg    uint8
	OffsetRegister uint8
	RelAddress     uint64
}

type StoreStaticToAddress struct {
	Width          uint8
	RegIndex       uint8
	IncrementReg   bool
	AddOffsetReg   bool
	OffsetRegIndex uint8
	Value          uint64
}

type PerformArithmeticStatic struct {
	Width    uint8
	RegIndex uint8
	MathType RegisterArithmeticType
	Value    uint32
}

type BeginKeypressConditional struct {
	KeyMask uint32
}

type PerformArithmeticRegister struct {
	Width        uint8
	MathType     RegisterArithmeticType
	DstRegIndex  uint8
	SrcReg1Index uint8
	SrcReg2Index uint8
	HasImmediate bool
	Value        uint64
}

// StoreRegisterToAddress uses OfsRegIndex only for OffsetReg, Mem only for
// the three memory offset types and RelAddress only for the immediate ones.
type StoreRegisterToAddress struct {
	Width        uint8
	StrRegIndex  uint8
	AddrRegIndex uint8
	IncrementReg bool
	OfsType      StoreRegisterOffsetType
	Mem          MemoryAccessType
	OfsRegIndex  uint8
	RelAddress   uint64
}

type BeginRegisterConditional struct {
	Width         uint8
	Cond          ConditionalComparisonType
	ValRegIndex   uint8
	CompType      CompareRegisterValueType
	Mem           MemoryAccessType
	AddrRegIndex  uint8
	OfsRegIndex   uint8
	OtherRegIndex uint8
	RelAddress    uint64
	Value         uint64
}

type SaveRestoreRegister struct {
	DstIndex uint8
	SrcIndex uint8
	OpType   SaveRestoreRegisterOpType
}

type SaveRestoreRegisterMask struct {
	OpType SaveRestoreRegisterOpType
	Mask   uint16
}

// ShouldOperate reports whether register i is selected by the mask.
func (o *SaveRestoreRegisterMask) ShouldOperate(i int) bool {
	return o.Mask&(1<<uint(i)) != 0
}

type ReadWriteStaticRegister struct {
	StaticIndex uint8
	Index       uint8
}

type BeginExtendedKeypressConditional struct {
	AutoRepeat bool
	KeyMask    uint64
}

type PauseProcess struct{}

type ResumeProcess struct{}

type DebugLog struct {
	Width        uint8
	LogID        uint8
	ValType      DebugLogValueType
	Mem          MemoryAccessType
	AddrRegIndex uint8
	OfsRegIndex  uint8
	ValRegIndex  uint8
	RelAddress   uint64
}

func (*StoreStatic) Type() CodeType                      { return OpStoreStatic }
func (*BeginConditional) Type() CodeType                 { return OpBeginConditional }
func (*EndConditional) Type() CodeType                   { return OpEndConditional }
func (*ControlLoop) Type() CodeType                      { return OpControlLoop }
func (*LoadRegisterStatic) Type() CodeType               { return OpLoadRegisterStatic }
func (*LoadRegisterMemory) Type() CodeType               { return OpLoadRegisterMemory }
func (*StoreStaticToAddress) Type() CodeType             { return OpStoreStaticToAddress }
func (*PerformArithmeticStatic) Type() CodeType          { return OpPerformArithmeticStatic }
func (*BeginKeypressConditional) Type() CodeType         { return OpBeginKeypressConditional }
func (*PerformArithmeticRegister) Type() CodeType        { return OpPerformArithmeticRegister }
func (*StoreRegisterToAddress) Type() CodeType           { return OpStoreRegisterToAddress }
func (*BeginRegisterConditional) Type() CodeType         { return OpBeginRegisterConditional }
func (*SaveRestoreRegister) Type() CodeType              { return OpSaveRestoreRegister }
func (*SaveRestoreRegisterMask) Type() CodeType          { return OpSaveRestoreRegisterMask }
func (*ReadWriteStaticRegister) Type() CodeType          { return OpReadWriteStaticRegister }
func (*BeginExtendedKeypressConditional) Type() CodeType { return OpBeginExtendedKeypressConditional }
func (*PauseProcess) Type() CodeType                     { return OpPauseProcess }
func (*ResumeProcess) Type() CodeType                    { return OpResumeProcess }
func (*DebugLog) Type() CodeType                         { return OpDebugLog }

func (*StoreStatic) BeginsConditional() bool                      { return false }
func (*BeginConditional) BeginsConditional() bool                 { return true }
func (*EndConditional) BeginsConditional() bool                   { return false }
func (*ControlLoop) BeginsConditional() bool                      { return false }
func (*LoadRegisterStatic) BeginsConditional() bool               { return false }
func (*LoadRegisterMemory) BeginsConditional() bool               { return false }
func (*StoreStaticToAddress) BeginsConditional() bool             { return false }
func (*PerformArithmeticStatic) BeginsConditional() bool          { return false }
func (*BeginKeypressConditional) BeginsConditional() bool         { return true }
func (*PerformArithmeticRegister) BeginsConditional() bool        { return false }
func (*StoreRegisterToAddress) BeginsConditional() bool           { return false }
func (*BeginRegisterConditional) BeginsConditional() bool         { return true }
func (*SaveRestoreRegister) BeginsConditional() bool              { return false }
func (*SaveRestoreRegisterMask) BeginsConditional() bool          { return false }
func (*ReadWriteStaticRegister) BeginsConditional() bool          { return false }
func (*BeginExtendedKeypressConditional) BeginsConditional() bool { return true }
func (*PauseProcess) BeginsConditional() bool                     { return false }
func (*ResumeProcess) BeginsConditional() bool                    { return false }
func (*DebugLog) BeginsConditional() bool                         { return false }

func memAddr(mem MemoryAccessType, rel uint64) string {
	return fmt.Sprintf("[%s+%#x]", mem, rel)
}

func (o *StoreStatic) String() string {
	return fmt.Sprintf("StoreStatic u%d %s+r%d = %#x", o.Width*8, memAddr(o.Mem, o.RelAddress), o.OffsetRegister, o.Value)
}

func (o *BeginConditional) String() string {
	addr := memAddr(o.Mem, o.RelAddress)
	if o.IncludeOfsReg {
		addr += fmt.Sprintf("+r%d", o.OfsRegIndex)
	}
	return fmt.Sprintf("BeginConditional u%d %s %s %#x", o.Width*8, addr, o.Cond, o.Value)
}

func (o *EndConditional) String() string {
	if o.IsElse {
		return "Else"
	}
	return "EndConditional"
}

func (o *ControlLoop) String() string {
	if o.StartLoop {
		return fmt.Sprintf("LoopStart r%d = %d", o.RegIndex, o.NumIters)
	}
	return fmt.Sprintf("LoopEnd r%d", o.RegIndex)
}

func (o *LoadRegisterStatic) String() string {
	return fmt.Sprintf("LoadRegisterStatic r%d = %#x", o.RegIndex, o.Value)
}

func (o *LoadRegisterMemory) String() string {
	var src string
	switch o.LoadFromReg {
	case 1:
		src = fmt.Sprintf("[r%d+%#x]", o.RegIndex, o.RelAddress)
	case 2:
		src = fmt.Sprintf("[r%d+%#x]", o.OffsetRegister, o.RelAddress)
	case 3:
		src = fmt.Sprintf("[%s+r%d+%#x]", o.Mem, o.OffsetRegister, o.RelAddress)
	default:
		src = memAddr(o.Mem, o.RelAddress)
	}
	return fmt.Sprintf("LoadRegisterMemory r%d = u%d %s", o.RegIndex, o.Width*8, src)
}

func (o *StoreStaticToAddress) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "StoreStaticToAddress u%d [r%d", o.Width*8, o.RegIndex)
	if o.AddOffsetReg {
		fmt.Fprintf(&sb, "+r%d", o.OffsetRegIndex)
	}
	fmt.Fprintf(&sb, "] = %#x", o.Value)
	if o.IncrementReg {
		sb.WriteString(" inc")
	}
	return sb.String()
}

func (o *PerformArithmeticStatic) String() string {
	return fmt.Sprintf("PerformArithmeticStatic u%d r%d = r%d %s %#x", o.Width*8, o.RegIndex, o.RegIndex, o.MathType, o.Value)
}

func (o *BeginKeypressConditional) String() string {
	return fmt.Sprintf("BeginKeypressConditional keys=%#x", o.KeyMask)
}

func (o *PerformArithmeticRegister) String() string {
	rhs := fmt.Sprintf("r%d", o.SrcReg2Index)
	if o.HasImmediate {
		rhs = fmt.Sprintf("%#x", o.Value)
	}
	return fmt.Sprintf("PerformArithmeticRegister u%d r%d = r%d %s %s", o.Width*8, o.DstRegIndex, o.SrcReg1Index, o.MathType, rhs)
}

func (o *StoreRegisterToAddress) String() string {
	var dst string
	switch o.OfsType {
	case OffsetReg:
		dst = fmt.Sprintf("[r%d+r%d]", o.AddrRegIndex, o.OfsRegIndex)
	case OffsetImm:
		dst = fmt.Sprintf("[r%d+%#x]", o.AddrRegIndex, o.RelAddress)
	case OffsetMemReg:
		dst = fmt.Sprintf("[%s+r%d]", o.Mem, o.AddrRegIndex)
	case OffsetMemImm:
		dst = memAddr(o.Mem, o.RelAddress)
	case OffsetMemImmReg:
		dst = fmt.Sprintf("[%s+r%d+%#x]", o.Mem, o.AddrRegIndex, o.RelAddress)
	default:
		dst = fmt.Sprintf("[r%d]", o.AddrRegIndex)
	}
	s := fmt.Sprintf("StoreRegisterToAddress u%d %s = r%d", o.Width*8, dst, o.StrRegIndex)
	if o.IncrementReg {
		s += " inc"
	}
	return s
}

func (o *BeginRegisterConditional) String() string {
	var rhs string
	switch o.CompType {
	case CompareMemoryRelAddr:
		rhs = memAddr(o.Mem, o.RelAddress)
	case CompareMemoryOfsReg:
		rhs = fmt.Sprintf("[%s+r%d]", o.Mem, o.OfsRegIndex)
	case CompareRegisterRelAddr:
		rhs = fmt.Sprintf("[r%d+%#x]", o.AddrRegIndex, o.RelAddress)
	case CompareRegisterOfsReg:
		rhs = fmt.Sprintf("[r%d+r%d]", o.AddrRegIndex, o.OfsRegIndex)
	case CompareStaticValue:
		rhs = fmt.Sprintf("%#x", o.Value)
	case CompareOtherRegister:
		rhs = fmt.Sprintf("r%d", o.OtherRegIndex)
	default:
		rhs = fmt.Sprintf("?%d", o.CompType)
	}
	return fmt.Sprintf("BeginRegisterConditional u%d r%d %s %s", o.Width*8, o.ValRegIndex, o.Cond, rhs)
}

func (o *SaveRestoreRegister) String() string {
	return fmt.Sprintf("SaveRestoreRegister %s dst=%d src=%d", o.OpType, o.DstIndex, o.SrcIndex)
}

func (o *SaveRestoreRegisterMask) String() string {
	return fmt.Sprintf("SaveRestoreRegisterMask %s mask=%#04x", o.OpType, o.Mask)
}

func (o *ReadWriteStaticRegister) String() string {
	if int(o.StaticIndex) < 0x80 {
		return fmt.Sprintf("ReadStaticRegister r%d = s%#x", o.Index, o.StaticIndex)
	}
	return fmt.Sprintf("WriteStaticRegister s%#x = r%d", o.StaticIndex, o.Index)
}

func (o *BeginExtendedKeypressConditional) String() string {
	mode := "down"
	if o.AutoRepeat {
		mode = "held"
	}
	return fmt.Sprintf("BeginExtendedKeypressConditional keys=%#x %s", o.KeyMask, mode)
}

func (*PauseProcess) String() string  { return "PauseProcess" }
func (*ResumeProcess) String() string { return "ResumeProcess" }

func (o *DebugLog) String() string {
	var src string
	switch o.ValType {
	case DebugLogMemoryRelAddr:
		src = memAddr(o.Mem, o.RelAddress)
	case DebugLogMemoryOfsReg:
		src = fmt.Sprintf("[%s+r%d]", o.Mem, o.OfsRegIndex)
	case DebugLogRegisterRelAddr:
		src = fmt.Sprintf("[r%d+%#x]", o.AddrRegIndex, o.RelAddress)
	case DebugLogRegisterOfsReg:
		src = fmt.Sprintf("[r%d+r%d]", o.AddrRegIndex, o.OfsRegIndex)
	case DebugLogRegisterValue:
		src = fmt.Sprintf("r%d", o.ValRegIndex)
	default:
		src = fmt.Sprintf("?%d", o.ValType)
	}
	return fmt.Sprintf("DebugLog id=%d u%d %s", o.LogID, o.Width*8, src)
}
