package cheatvm

import (
	"math"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/common"
	log "github.com/colorfulnotion/dmnt/log"
	"github.com/colorfulnotion/dmnt/types"
)

// VMTrace logs every executed opcode under the cheat_vm module.
var VMTrace = false

// HostEnv is the view of the attached process a VM pass runs against. The
// caller holds the manager lock for the whole pass.
type HostEnv interface {
	ReadMemoryUnsafe(addr uint64, buf []byte) error
	WriteMemoryUnsafe(addr uint64, buf []byte) error
	PauseUnsafe() error
	ResumeUnsafe() error
	KeysHeld() uint64
}

// DebugLogSink receives the values produced by DebugLog opcodes.
type DebugLogSink func(logID uint8, value uint64)

type VM struct {
	program []uint32
	dec     Decoder

	conditionDepth int
	registers      [NumRegisters]uint64
	savedValues    [NumRegisters]uint64
	loopTops       [NumRegisters]int

	staticRegisters [types.NumStaticRegisters]uint64
	lastKeysHeld    uint64

	DebugLog DebugLogSink
}

func NewVM() *VM {
	vm := &VM{
		program: make([]uint32, 0, MaxProgramOpcodes),
	}
	vm.DebugLog = vm.defaultDebugLog
	return vm
}

func (vm *VM) defaultDebugLog(logID uint8, value uint64) {
	log.Debug(log.VMMonitoring, "DebugLog", "id", logID, "value", value)
}

// ProgramSize is the number of opcode words currently loaded.
func (vm *VM) ProgramSize() int { return len(vm.program) }

// Program returns a copy of the loaded program.
func (vm *VM) Program() []uint32 {
	return append([]uint32(nil), vm.program...)
}

// LoadProgram concatenates the opcodes of every enabled entry in table order.
// If the total would exceed MaxProgramOpcodes the program is cleared and
// false is returned.
func (vm *VM) LoadProgram(entries []types.CheatEntry) bool {
	vm.program = vm.program[:0]
	vm.dec.Reset(vm.program)
	for i := range entries {
		e := &entries[i]
		if !e.Enabled && !(e.IsMaster() && e.Definition.NumOpcodes() > 0) {
			continue
		}
		if len(vm.program)+e.Definition.NumOpcodes() > MaxProgramOpcodes {
			vm.program = vm.program[:0]
			vm.dec.Reset(vm.program)
			return false
		}
		vm.program = append(vm.program, e.Definition.Opcodes...)
	}
	vm.dec.Reset(vm.program)
	return true
}

// ResetState clears the per-pass register file. Static registers survive.
func (vm *VM) ResetState() {
	vm.registers = [NumRegisters]uint64{}
	vm.savedValues = [NumRegisters]uint64{}
	vm.loopTops = [NumRegisters]int{}
	vm.conditionDepth = 0
	vm.dec.Reset(vm.program)
}

func (vm *VM) GetStaticRegister(i int) uint64 { return vm.staticRegisters[i] }

func (vm *VM) SetStaticRegister(i int, v uint64) { vm.staticRegisters[i] = v }

func (vm *VM) ResetStaticRegisters() {
	vm.staticRegisters = [types.NumStaticRegisters]uint64{}
}

// Register exposes the general register file of the last pass.
func (vm *VM) Register(i int) uint64 { return vm.registers[i] }

func (vm *VM) ConditionDepth() int { return vm.conditionDepth }

func regionAddress(meta *types.CheatProcessMetadata, mem MemoryAccessType, rel uint64) uint64 {
	switch mem {
	case MemoryMainNso:
		return meta.MainNsoExtents.Base + rel
	case MemoryHeap:
		return meta.HeapExtents.Base + rel
	case MemoryAlias:
		return meta.AliasExtents.Base + rel
	case MemoryAslr:
		return meta.AslrExtents.Base + rel
	}
	return rel
}

// truncate narrows v to width bytes. Widths other than 1, 2 and 4 leave v as is.
func truncate(v uint64, width uint8) uint64 {
	switch width {
	case 1:
		return uint64(uint8(v))
	case 2:
		return uint64(uint16(v))
	case 4:
		return uint64(uint32(v))
	}
	return v
}

func validWidth(width uint8) bool {
	return width == 1 || width == 2 || width == 4 || width == 8
}

// readWidth zero-extends width bytes at addr. Faults read as zero.
func readWidth(env HostEnv, addr uint64, width uint8) (uint64, bool) {
	if !validWidth(width) {
		return 0, false
	}
	buf := make([]byte, width)
	if err := env.ReadMemoryUnsafe(addr, buf); err != nil {
		log.Trace(log.VMMonitoring, "read fault", "addr", addr, "width", width, "err", err)
		return 0, false
	}
	return common.DecodeWidth(buf), true
}

func writeWidth(env HostEnv, addr uint64, value uint64, width uint8) {
	if !validWidth(width) {
		return
	}
	if err := env.WriteMemoryUnsafe(addr, common.EncodeWidth(value, int(width))); err != nil {
		log.Trace(log.VMMonitoring, "write fault", "addr", addr, "width", width, "err", err)
	}
}

// Execute runs the loaded program once from the top.
func (vm *VM) Execute(meta *types.CheatProcessMetadata, env HostEnv) {
	keysHeld := env.KeysHeld()
	keysDown := keysHeld &^ vm.lastKeysHeld
	vm.lastKeysHeld = keysHeld

	vm.ResetState()
	for {
		op, ok := vm.dec.Next()
		if !ok {
			break
		}
		if VMTrace {
			log.Trace(log.VMMonitoring, "exec", "ip", vm.dec.Pos(), "op", op.String())
		}
		if op.BeginsConditional() {
			vm.conditionDepth++
		}
		vm.step(op, meta, env, keysHeld, keysDown)
	}
}

func (vm *VM) step(op Opcode, meta *types.CheatProcessMetadata, env HostEnv, keysHeld, keysDown uint64) {
	switch o := op.(type) {
	case *StoreStatic:
		addr := regionAddress(meta, o.Mem, o.RelAddress+vm.registers[o.OffsetRegister])
		writeWidth(env, addr, o.Value, o.Width)

	case *BeginConditional:
		rel := o.RelAddress
		if o.IncludeOfsReg {
			rel += vm.registers[o.OfsRegIndex]
		}
		// an invalid width never satisfies the condition
		src, _ := readWidth(env, regionAddress(meta, o.Mem, rel), o.Width)
		if !validWidth(o.Width) || !o.Cond.Holds(src, o.Value) {
			vm.skip(true)
		}

	case *EndConditional:
		if o.IsElse {
			vm.skip(false)
		} else if vm.conditionDepth > 0 {
			vm.conditionDepth--
		}

	case *ControlLoop:
		if o.StartLoop {
			vm.registers[o.RegIndex] = uint64(o.NumIters)
			vm.loopTops[o.RegIndex] = vm.dec.Pos()
		} else {
			vm.registers[o.RegIndex]--
			if vm.registers[o.RegIndex] != 0 {
				vm.dec.Seek(vm.loopTops[o.RegIndex])
			}
		}

	case *LoadRegisterStatic:
		vm.registers[o.RegIndex] = o.Value

	case *LoadRegisterMemory:
		var addr uint64
		switch o.LoadFromReg {
		case 1:
			addr = vm.registers[o.RegIndex] + o.RelAddress
		case 2:
			addr = vm.registers[o.OffsetRegister] + o.RelAddress
		case 3:
			addr = regionAddress(meta, o.Mem, vm.registers[o.OffsetRegister]+o.RelAddress)
		default:
			addr = regionAddress(meta, o.Mem, o.RelAddress)
		}
		// Narrow loads zero-extend into the register. Ported cheats that
		// expect the upper bytes to survive a narrow load need a mask or a
		// full-width load.
		if v, ok := readWidth(env, addr, o.Width); ok {
			vm.registers[o.RegIndex] = v
		}

	case *StoreStaticToAddress:
		addr := vm.registers[o.RegIndex]
		if o.AddOffsetReg {
			addr += vm.registers[o.OffsetRegIndex]
		}
		writeWidth(env, addr, o.Value, o.Width)
		if o.IncrementReg {
			vm.registers[o.RegIndex] += uint64(o.Width)
		}

	case *PerformArithmeticStatic:
		r := vm.registers[o.RegIndex]
		vm.registers[o.RegIndex] = truncate(arithmetic(o.MathType, r, uint64(o.Value), o.Width), o.Width)

	case *BeginKeypressConditional:
		mask := uint64(o.KeyMask)
		if keysHeld&mask != mask {
			vm.skip(true)
		}

	case *PerformArithmeticRegister:
		lhs := vm.registers[o.SrcReg1Index]
		rhs := o.Value
		if !o.HasImmediate {
			rhs = vm.registers[o.SrcReg2Index]
		}
		vm.registers[o.DstRegIndex] = truncate(arithmetic(o.MathType, lhs, rhs, o.Width), o.Width)

	case *StoreRegisterToAddress:
		addr := vm.registers[o.AddrRegIndex]
		switch o.OfsType {
		case OffsetReg:
			addr += vm.registers[o.OfsRegIndex]
		case OffsetImm:
			addr += o.RelAddress
		case OffsetMemReg:
			addr = regionAddress(meta, o.Mem, vm.registers[o.AddrRegIndex])
		case OffsetMemImm:
			addr = regionAddress(meta, o.Mem, o.RelAddress)
		case OffsetMemImmReg:
			addr = regionAddress(meta, o.Mem, vm.registers[o.AddrRegIndex]+o.RelAddress)
		}
		writeWidth(env, addr, vm.registers[o.StrRegIndex], o.Width)
		if o.IncrementReg {
			vm.registers[o.AddrRegIndex] += uint64(o.Width)
		}

	case *BeginRegisterConditional:
		src := truncate(vm.registers[o.ValRegIndex], o.Width)
		var cmp uint64
		switch o.CompType {
		case CompareStaticValue:
			cmp = o.Value
		case CompareOtherRegister:
			cmp = vm.registers[o.OtherRegIndex]
		case CompareMemoryRelAddr:
			cmp, _ = readWidth(env, regionAddress(meta, o.Mem, o.RelAddress), o.Width)
		case CompareMemoryOfsReg:
			cmp, _ = readWidth(env, regionAddress(meta, o.Mem, vm.registers[o.OfsRegIndex]), o.Width)
		case CompareRegisterRelAddr:
			cmp, _ = readWidth(env, vm.registers[o.AddrRegIndex]+o.RelAddress, o.Width)
		case CompareRegisterOfsReg:
			cmp, _ = readWidth(env, vm.registers[o.AddrRegIndex]+vm.registers[o.OfsRegIndex], o.Width)
		}
		cmp = truncate(cmp, o.Width)
		if !validWidth(o.Width) || !o.Cond.Holds(src, cmp) {
			vm.skip(true)
		}

	case *SaveRestoreRegister:
		switch o.OpType {
		case SaveRestoreRestore:
			vm.registers[o.DstIndex] = vm.savedValues[o.SrcIndex]
		case SaveRestoreSave:
			vm.savedValues[o.DstIndex] = vm.registers[o.SrcIndex]
		case SaveRestoreClearSaved:
			vm.savedValues[o.DstIndex] = 0
		case SaveRestoreClearRegs:
			vm.registers[o.DstIndex] = 0
		}

	case *SaveRestoreRegisterMask:
		for i := 0; i < NumRegisters; i++ {
			if !o.ShouldOperate(i) {
				continue
			}
			switch o.OpType {
			case SaveRestoreRestore:
				vm.registers[i] = vm.savedValues[i]
			case SaveRestoreSave:
				vm.savedValues[i] = vm.registers[i]
			case SaveRestoreClearSaved:
				vm.savedValues[i] = 0
			case SaveRestoreClearRegs:
				vm.registers[i] = 0
			}
		}

	case *ReadWriteStaticRegister:
		if int(o.StaticIndex) < types.NumReadableStaticRegisters {
			vm.registers[o.Index] = vm.staticRegisters[o.StaticIndex]
		} else {
			vm.staticRegisters[o.StaticIndex] = vm.registers[o.Index]
		}

	case *BeginExtendedKeypressConditional:
		keys := keysDown
		if o.AutoRepeat {
			keys = keysHeld
		}
		if keys&o.KeyMask != o.KeyMask {
			vm.skip(true)
		}

	case *PauseProcess:
		if err := env.PauseUnsafe(); err != nil {
			log.Trace(log.VMMonitoring, "pause failed", "err", err)
		}

	case *ResumeProcess:
		if err := env.ResumeUnsafe(); err != nil {
			log.Trace(log.VMMonitoring, "resume failed", "err", err)
		}

	case *DebugLog:
		var value uint64
		var ok bool
		switch o.ValType {
		case DebugLogRegisterValue:
			value, ok = truncate(vm.registers[o.ValRegIndex], o.Width), validWidth(o.Width)
		case DebugLogMemoryRelAddr:
			value, ok = readWidth(env, regionAddress(meta, o.Mem, o.RelAddress), o.Width)
		case DebugLogMemoryOfsReg:
			value, ok = readWidth(env, regionAddress(meta, o.Mem, vm.registers[o.OfsRegIndex]), o.Width)
		case DebugLogRegisterRelAddr:
			value, ok = readWidth(env, vm.registers[o.AddrRegIndex]+o.RelAddress, o.Width)
		case DebugLogRegisterOfsReg:
			value, ok = readWidth(env, vm.registers[o.AddrRegIndex]+vm.registers[o.OfsRegIndex], o.Width)
		}
		if ok && vm.DebugLog != nil {
			vm.DebugLog(o.LogID, value)
		}
	}
}

// skip advances past the rest of the current conditional block. With isIf
// set it stops just after a matching Else so the else branch runs.
func (vm *VM) skip(isIf bool) {
	if vm.conditionDepth <= 0 {
		panic(cheaterrors.ErrVMInvalidConditionDepth)
	}
	target := vm.conditionDepth - 1
	for vm.conditionDepth > target {
		op, ok := vm.dec.Next()
		if !ok {
			panic(cheaterrors.ErrVMInvalidConditionDepth)
		}
		if op.BeginsConditional() {
			vm.conditionDepth++
			continue
		}
		end, isEnd := op.(*EndConditional)
		if !isEnd {
			continue
		}
		if !end.IsElse {
			vm.conditionDepth--
		} else if isIf && vm.conditionDepth-1 == target {
			return
		}
	}
}

// arithmetic computes lhs <math> rhs at native width. Float operations
// reinterpret the low width bytes and are only defined for widths 4 and 8.
func arithmetic(op RegisterArithmeticType, lhs, rhs uint64, width uint8) uint64 {
	switch op {
	case MathAdd:
		return lhs + rhs
	case MathSub:
		return lhs - rhs
	case MathMul:
		return lhs * rhs
	case MathLeftShift:
		if rhs >= 64 {
			return 0
		}
		return lhs << rhs
	case MathRightShift:
		if rhs >= 64 {
			return 0
		}
		return lhs >> rhs
	case MathLogicalAnd:
		return lhs & rhs
	case MathLogicalOr:
		return lhs | rhs
	case MathLogicalNot:
		return ^lhs
	case MathLogicalXor:
		return lhs ^ rhs
	case MathNone:
		return lhs
	case MathFloatAdd, MathFloatSub, MathFloatMul, MathFloatDiv:
		return floatArithmetic(op, lhs, rhs, width)
	}
	return lhs
}

func floatArithmetic(op RegisterArithmeticType, lhs, rhs uint64, width uint8) uint64 {
	switch width {
	case 4:
		a, b := math.Float32frombits(uint32(lhs)), math.Float32frombits(uint32(rhs))
		return uint64(math.Float32bits(applyFloat32(op, a, b)))
	case 8:
		a, b := math.Float64frombits(lhs), math.Float64frombits(rhs)
		return math.Float64bits(applyFloat64(op, a, b))
	}
	return lhs
}

func applyFloat32(op RegisterArithmeticType, a, b float32) float32 {
	switch op {
	case MathFloatAdd:
		return a + b
	case MathFloatSub:
		return a - b
	case MathFloatMul:
		return a * b
	}
	return a / b
}

func applyFloat64(op RegisterArithmeticType, a, b float64) float64 {
	switch op {
	case MathFloatAdd:
		return a + b
	case MathFloatSub:
		return a - b
	case MathFloatMul:
		return a * b
	}
	return a / b
}
