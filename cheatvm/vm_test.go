package cheatvm

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mainBase = 0x0800_0000
	heapBase = 0x4000_0000
)

type memWrite struct {
	addr uint64
	data []byte
}

type testEnv struct {
	mem     map[uint64]byte
	faults  map[uint64]bool
	writes  []memWrite
	keys    uint64
	pauses  int
	resumes int
}

func newTestEnv() *testEnv {
	return &testEnv{mem: map[uint64]byte{}, faults: map[uint64]bool{}}
}

func (e *testEnv) ReadMemoryUnsafe(addr uint64, buf []byte) error {
	if e.faults[addr] {
		return errors.New("unmapped")
	}
	for i := range buf {
		buf[i] = e.mem[addr+uint64(i)]
	}
	return nil
}

func (e *testEnv) WriteMemoryUnsafe(addr uint64, buf []byte) error {
	if e.faults[addr] {
		return errors.New("unmapped")
	}
	for i, b := range buf {
		e.mem[addr+uint64(i)] = b
	}
	e.writes = append(e.writes, memWrite{addr, append([]byte(nil), buf...)})
	return nil
}

func (e *testEnv) PauseUnsafe() error  { e.pauses++; return nil }
func (e *testEnv) ResumeUnsafe() error { e.resumes++; return nil }
func (e *testEnv) KeysHeld() uint64    { return e.keys }

func (e *testEnv) putU32(addr uint64, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	for i := range b {
		e.mem[addr+uint64(i)] = b[i]
	}
}

func (e *testEnv) u32(addr uint64) uint32 {
	var b [4]byte
	for i := range b {
		b[i] = e.mem[addr+uint64(i)]
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (e *testEnv) writesTo(addr uint64) int {
	n := 0
	for _, w := range e.writes {
		if w.addr == addr {
			n++
		}
	}
	return n
}

func testMetadata() *types.CheatProcessMetadata {
	return &types.CheatProcessMetadata{
		ProcessID:      0x51,
		ProgramID:      0x0100000000010000,
		MainNsoExtents: types.MemoryRegionExtents{Base: mainBase, Size: 0x100000},
		HeapExtents:    types.MemoryRegionExtents{Base: heapBase, Size: 0x100000},
	}
}

func loadVM(t *testing.T, ops ...Opcode) *VM {
	t.Helper()
	words := EncodeProgram(ops...)
	vm := NewVM()
	require.True(t, vm.LoadProgram([]types.CheatEntry{
		{CheatID: 1, Enabled: true, Definition: types.CheatDefinition{ReadableName: "test", Opcodes: words}},
	}))
	return vm
}

func cond(width uint8, rel uint64, c ConditionalComparisonType, v uint64) *BeginConditional {
	return &BeginConditional{Width: width, Mem: MemoryMainNso, Cond: c, RelAddress: rel, Value: v}
}

func store(rel uint64, v uint64) *StoreStatic {
	return &StoreStatic{Width: 4, Mem: MemoryMainNso, RelAddress: rel, Value: v}
}

func TestArithmeticTruncatesToWidth(t *testing.T) {
	vm := loadVM(t,
		&LoadRegisterStatic{RegIndex: 0, Value: 0x1_0000_0001},
		&PerformArithmeticStatic{Width: 4, RegIndex: 0, MathType: MathAdd, Value: 0},
		&LoadRegisterStatic{RegIndex: 1, Value: 0x1_0000_0000},
		&PerformArithmeticStatic{Width: 4, RegIndex: 1, MathType: MathAdd, Value: 1},
		&LoadRegisterStatic{RegIndex: 2, Value: 0xFF},
		&PerformArithmeticRegister{Width: 1, MathType: MathAdd, DstRegIndex: 3, SrcReg1Index: 2, HasImmediate: true, Value: 2},
	)
	vm.Execute(testMetadata(), newTestEnv())
	assert.Equal(t, uint64(0x1), vm.Register(0))
	assert.Equal(t, uint64(0x1), vm.Register(1))
	assert.Equal(t, uint64(0x1), vm.Register(3))
}

func TestNestedConditionals(t *testing.T) {
	env := newTestEnv()
	env.putU32(mainBase+0x100, 0)
	vm := loadVM(t,
		cond(4, 0x100, CondEQ, 1),
		cond(4, 0x100, CondEQ, 0),
		store(0x200, 0xAA),
		&EndConditional{},
		store(0x204, 0xAB),
		&EndConditional{},
		store(0x300, 0xBB),
	)
	vm.Execute(testMetadata(), env)
	assert.Zero(t, env.writesTo(mainBase+0x200))
	assert.Zero(t, env.writesTo(mainBase+0x204))
	assert.Equal(t, 1, env.writesTo(mainBase+0x300))
	assert.Equal(t, uint32(0xBB), env.u32(mainBase+0x300))
	assert.Equal(t, 0, vm.ConditionDepth())
}

func TestIfElse(t *testing.T) {
	for _, tc := range []struct {
		name     string
		memValue uint32
		wantIf   int
		wantElse int
	}{
		{"false branch", 0, 0, 1},
		{"true branch", 1, 1, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			env.putU32(mainBase+0x100, tc.memValue)
			vm := loadVM(t,
				cond(4, 0x100, CondEQ, 1),
				store(0x200, 0x1),
				&EndConditional{IsElse: true},
				store(0x204, 0x2),
				&EndConditional{},
				store(0x300, 0x3),
			)
			vm.Execute(testMetadata(), env)
			assert.Equal(t, tc.wantIf, env.writesTo(mainBase+0x200))
			assert.Equal(t, tc.wantElse, env.writesTo(mainBase+0x204))
			assert.Equal(t, 1, env.writesTo(mainBase+0x300))
			assert.Equal(t, 0, vm.ConditionDepth())
		})
	}
}

func TestElseInsideSkippedBlockIsIgnored(t *testing.T) {
	env := newTestEnv()
	vm := loadVM(t,
		cond(4, 0x100, CondEQ, 1),
		cond(4, 0x100, CondEQ, 0),
		store(0x200, 1),
		&EndConditional{IsElse: true},
		store(0x204, 2),
		&EndConditional{},
		&EndConditional{IsElse: true},
		store(0x208, 3),
		&EndConditional{},
	)
	vm.Execute(testMetadata(), env)
	assert.Zero(t, env.writesTo(mainBase+0x200))
	assert.Zero(t, env.writesTo(mainBase+0x204))
	assert.Equal(t, 1, env.writesTo(mainBase+0x208))
}

func TestLoopRunsIterationCount(t *testing.T) {
	env := newTestEnv()
	vm := loadVM(t,
		&LoadRegisterStatic{RegIndex: 2, Value: mainBase + 0x400},
		&ControlLoop{StartLoop: true, RegIndex: 1, NumIters: 3},
		&PerformArithmeticRegister{Width: 8, MathType: MathAdd, DstRegIndex: 3, SrcReg1Index: 3, HasImmediate: true, Value: 1},
		&StoreStaticToAddress{Width: 4, RegIndex: 2, IncrementReg: true, Value: 0x77},
		&ControlLoop{RegIndex: 1},
		store(0x500, 9),
	)
	vm.Execute(testMetadata(), env)
	assert.Equal(t, uint64(3), vm.Register(3))
	assert.Equal(t, uint64(0), vm.Register(1))
	assert.Equal(t, uint64(mainBase+0x400+12), vm.Register(2))
	for i := uint64(0); i < 3; i++ {
		assert.Equal(t, uint32(0x77), env.u32(mainBase+0x400+4*i))
	}
	assert.Equal(t, 1, env.writesTo(mainBase+0x500))
}

func TestStaticRegisterChannel(t *testing.T) {
	vm := loadVM(t,
		&LoadRegisterStatic{RegIndex: 3, Value: 0xDEAD},
		&ReadWriteStaticRegister{StaticIndex: 200, Index: 3},
		&ReadWriteStaticRegister{StaticIndex: 5, Index: 4},
	)
	vm.SetStaticRegister(5, 0x1234)
	vm.Execute(testMetadata(), newTestEnv())
	assert.Equal(t, uint64(0xDEAD), vm.GetStaticRegister(200))
	assert.Equal(t, uint64(0x1234), vm.Register(4))

	vm.ResetStaticRegisters()
	for i := 0; i < types.NumStaticRegisters; i++ {
		require.Zero(t, vm.GetStaticRegister(i))
	}
}

func TestStaticRegistersSurviveReload(t *testing.T) {
	vm := NewVM()
	vm.SetStaticRegister(0x90, 42)
	require.True(t, vm.LoadProgram(nil))
	vm.Execute(testMetadata(), newTestEnv())
	assert.Equal(t, uint64(42), vm.GetStaticRegister(0x90))
}

func TestEmptyProgramWritesNothing(t *testing.T) {
	env := newTestEnv()
	vm := NewVM()
	require.True(t, vm.LoadProgram([]types.CheatEntry{
		{CheatID: 1, Enabled: false, Definition: types.CheatDefinition{Opcodes: EncodeProgram(store(0, 1))}},
	}))
	assert.Zero(t, vm.ProgramSize())
	vm.Execute(testMetadata(), env)
	assert.Empty(t, env.writes)
}

func TestLoadProgramCapacity(t *testing.T) {
	big := make([]uint32, MaxProgramOpcodes/2+1)
	for i := range big {
		big[i] = 0x20000000
	}
	entries := []types.CheatEntry{
		{CheatID: 0, Enabled: true, Definition: types.CheatDefinition{Opcodes: []uint32{0xFF000000}}},
		{CheatID: 1, Enabled: true, Definition: types.CheatDefinition{Opcodes: big}},
		{CheatID: 2, Enabled: true, Definition: types.CheatDefinition{Opcodes: big}},
	}
	vm := NewVM()
	assert.False(t, vm.LoadProgram(entries))
	assert.Zero(t, vm.ProgramSize())

	entries[2].Enabled = false
	assert.True(t, vm.LoadProgram(entries))
	assert.Equal(t, 1+len(big), vm.ProgramSize())
	assert.Equal(t, uint32(0xFF000000), vm.Program()[0])
}

func TestKeypressConditionals(t *testing.T) {
	const keyA, keyB = 1 << 0, 1 << 1
	env := newTestEnv()
	vm := loadVM(t,
		&BeginKeypressConditional{KeyMask: keyA | keyB},
		store(0x10, 1),
		&EndConditional{},
		&BeginExtendedKeypressConditional{KeyMask: keyA},
		store(0x14, 1),
		&EndConditional{},
		&BeginExtendedKeypressConditional{AutoRepeat: true, KeyMask: keyA},
		store(0x18, 1),
		&EndConditional{},
	)

	env.keys = keyA
	vm.Execute(testMetadata(), env)
	vm.Execute(testMetadata(), env)
	assert.Zero(t, env.writesTo(mainBase+0x10), "both keys required")
	assert.Equal(t, 1, env.writesTo(mainBase+0x14), "edge triggered once")
	assert.Equal(t, 2, env.writesTo(mainBase+0x18), "auto repeat every pass")

	env.keys = keyA | keyB
	vm.Execute(testMetadata(), env)
	assert.Equal(t, 1, env.writesTo(mainBase+0x10))
	assert.Equal(t, 1, env.writesTo(mainBase+0x14))

	env.keys = 0
	vm.Execute(testMetadata(), env)
	env.keys = keyA
	vm.Execute(testMetadata(), env)
	assert.Equal(t, 2, env.writesTo(mainBase+0x14), "fires again after release")
}

func TestConditionalWithInvalidWidthIsFalse(t *testing.T) {
	env := newTestEnv()
	vm := loadVM(t,
		cond(3, 0x100, CondEQ, 0),
		store(0x200, 1),
		&EndConditional{IsElse: true},
		store(0x204, 2),
		&EndConditional{},
		&BeginRegisterConditional{Width: 3, Cond: CondEQ, ValRegIndex: 0, CompType: CompareStaticValue},
		store(0x208, 3),
		&EndConditional{},
	)
	vm.Execute(testMetadata(), env)
	assert.Zero(t, env.writesTo(mainBase+0x200))
	assert.Equal(t, 1, env.writesTo(mainBase+0x204))
	assert.Zero(t, env.writesTo(mainBase+0x208))
	assert.Equal(t, 0, vm.ConditionDepth())
}

func TestRegisterConditionalForms(t *testing.T) {
	env := newTestEnv()
	env.putU32(heapBase+0x40, 7)
	vm := loadVM(t,
		&LoadRegisterStatic{RegIndex: 0, Value: 0xFFFF_FF07},
		&LoadRegisterStatic{RegIndex: 1, Value: heapBase},
		&LoadRegisterStatic{RegIndex: 2, Value: 0x40},
		&BeginRegisterConditional{Width: 1, Cond: CondEQ, ValRegIndex: 0, CompType: CompareStaticValue, Value: 7},
		store(0x0, 1),
		&EndConditional{},
		&BeginRegisterConditional{Width: 1, Cond: CondEQ, ValRegIndex: 0, CompType: CompareMemoryRelAddr, Mem: MemoryHeap, RelAddress: 0x40},
		store(0x4, 1),
		&EndConditional{},
		&BeginRegisterConditional{Width: 4, Cond: CondEQ, ValRegIndex: 0, CompType: CompareRegisterOfsReg, AddrRegIndex: 1, OfsRegIndex: 2},
		store(0x8, 1),
		&EndConditional{},
		&BeginRegisterConditional{Width: 8, Cond: CondGT, ValRegIndex: 1, CompType: CompareOtherRegister, OtherRegIndex: 2},
		store(0xC, 1),
		&EndConditional{},
	)
	vm.Execute(testMetadata(), env)
	assert.Equal(t, 1, env.writesTo(mainBase+0x0))
	assert.Equal(t, 1, env.writesTo(mainBase+0x4))
	assert.Zero(t, env.writesTo(mainBase+0x8))
	assert.Equal(t, 1, env.writesTo(mainBase+0xC))
}

func TestLoadRegisterMemoryModesAndRegions(t *testing.T) {
	env := newTestEnv()
	env.putU32(heapBase+0x10, 0xAABBCCDD)
	env.putU32(heapBase+0x20, 0x11)
	env.putU32(0x1000, 0x22)
	vm := loadVM(t,
		&LoadRegisterMemory{Width: 4, Mem: MemoryHeap, RegIndex: 0, RelAddress: 0x10},
		&LoadRegisterStatic{RegIndex: 1, Value: heapBase},
		&LoadRegisterMemory{Width: 4, RegIndex: 1, LoadFromReg: 1, RelAddress: 0x20},
		&LoadRegisterStatic{RegIndex: 2, Value: 0x10},
		&LoadRegisterMemory{Width: 2, Mem: MemoryHeap, RegIndex: 3, LoadFromReg: 3, OffsetRegister: 2},
		&LoadRegisterMemory{Width: 4, Mem: MemoryNonRelative, RegIndex: 4, RelAddress: 0x1000},
	)
	vm.Execute(testMetadata(), env)
	assert.Equal(t, uint64(0xAABBCCDD), vm.Register(0))
	assert.Equal(t, uint64(0x11), vm.Register(1))
	assert.Equal(t, uint64(0xCCDD), vm.Register(3))
	assert.Equal(t, uint64(0x22), vm.Register(4))
}

func TestNarrowLoadZeroExtends(t *testing.T) {
	env := newTestEnv()
	env.putU32(heapBase+0x10, 0x07)
	vm := loadVM(t,
		&LoadRegisterStatic{RegIndex: 3, Value: 0xFFFF_FFFF_FFFF_FFFF},
		&LoadRegisterMemory{Width: 1, Mem: MemoryHeap, RegIndex: 3, RelAddress: 0x10},
	)
	vm.Execute(testMetadata(), env)
	assert.Equal(t, uint64(0x07), vm.Register(3))
}

func TestStoreRegisterOffsetTypes(t *testing.T) {
	env := newTestEnv()
	vm := loadVM(t,
		&LoadRegisterStatic{RegIndex: 0, Value: 0x55},
		&LoadRegisterStatic{RegIndex: 1, Value: 0x100},
		&LoadRegisterStatic{RegIndex: 2, Value: 0x8},
		&StoreRegisterToAddress{Width: 4, StrRegIndex: 0, AddrRegIndex: 1, OfsType: OffsetMemReg, Mem: MemoryMainNso},
		&StoreRegisterToAddress{Width: 4, StrRegIndex: 0, AddrRegIndex: 1, OfsType: OffsetMemImmReg, Mem: MemoryHeap, RelAddress: 0x4},
		&StoreRegisterToAddress{Width: 4, StrRegIndex: 0, AddrRegIndex: 1, OfsType: OffsetReg, OfsRegIndex: 2, IncrementReg: true},
	)
	vm.Execute(testMetadata(), env)
	assert.Equal(t, uint32(0x55), env.u32(mainBase+0x100))
	assert.Equal(t, uint32(0x55), env.u32(heapBase+0x104))
	assert.Equal(t, uint32(0x55), env.u32(0x108))
	assert.Equal(t, uint64(0x104), vm.Register(1))
}

func TestSaveRestoreRegisters(t *testing.T) {
	vm := loadVM(t,
		&LoadRegisterStatic{RegIndex: 0, Value: 10},
		&LoadRegisterStatic{RegIndex: 1, Value: 11},
		&SaveRestoreRegisterMask{OpType: SaveRestoreSave, Mask: 0b11},
		&SaveRestoreRegisterMask{OpType: SaveRestoreClearRegs, Mask: 0b11},
		&SaveRestoreRegister{OpType: SaveRestoreRestore, DstIndex: 5, SrcIndex: 1},
		&SaveRestoreRegisterMask{OpType: SaveRestoreRestore, Mask: 0b01},
	)
	vm.Execute(testMetadata(), newTestEnv())
	assert.Equal(t, uint64(10), vm.Register(0))
	assert.Equal(t, uint64(0), vm.Register(1))
	assert.Equal(t, uint64(11), vm.Register(5))
}

func TestFloatArithmetic(t *testing.T) {
	vm := loadVM(t,
		&LoadRegisterStatic{RegIndex: 0, Value: uint64(math.Float32bits(1.5))},
		&PerformArithmeticRegister{Width: 4, MathType: MathFloatAdd, DstRegIndex: 1, SrcReg1Index: 0, HasImmediate: true, Value: uint64(math.Float32bits(2.25))},
		&LoadRegisterStatic{RegIndex: 2, Value: math.Float64bits(9)},
		&LoadRegisterStatic{RegIndex: 3, Value: math.Float64bits(2)},
		&PerformArithmeticRegister{Width: 8, MathType: MathFloatDiv, DstRegIndex: 4, SrcReg1Index: 2, SrcReg2Index: 3},
		&PerformArithmeticRegister{Width: 2, MathType: MathFloatMul, DstRegIndex: 5, SrcReg1Index: 0, HasImmediate: true, Value: 3},
	)
	vm.Execute(testMetadata(), newTestEnv())
	assert.Equal(t, float32(3.75), math.Float32frombits(uint32(vm.Register(1))))
	assert.Equal(t, 4.5, math.Float64frombits(vm.Register(4)))
	assert.Equal(t, uint64(uint16(math.Float32bits(1.5))), vm.Register(5))
}

func TestShiftBeyondWidth(t *testing.T) {
	assert.Equal(t, uint64(0), arithmetic(MathLeftShift, 1, 64, 8))
	assert.Equal(t, uint64(0), arithmetic(MathRightShift, 1<<63, 70, 8))
	assert.Equal(t, uint64(1<<4), arithmetic(MathLeftShift, 1, 4, 8))
	assert.Equal(t, ^uint64(5), arithmetic(MathLogicalNot, 5, 0, 8))
}

func TestMemoryFaultsAreIgnored(t *testing.T) {
	env := newTestEnv()
	env.faults[mainBase+0x10] = true
	vm := loadVM(t,
		store(0x10, 1),
		&LoadRegisterStatic{RegIndex: 0, Value: 9},
		&LoadRegisterMemory{Width: 4, Mem: MemoryMainNso, RegIndex: 0, RelAddress: 0x10},
		store(0x14, 2),
	)
	vm.Execute(testMetadata(), env)
	assert.Equal(t, uint64(9), vm.Register(0))
	assert.Equal(t, uint32(2), env.u32(mainBase+0x14))
}

func TestPauseResumeAndDebugLog(t *testing.T) {
	env := newTestEnv()
	env.putU32(heapBase, 0x99)
	var logged []uint64
	vm := loadVM(t,
		&PauseProcess{},
		&LoadRegisterStatic{RegIndex: 6, Value: 0x1234},
		&DebugLog{Width: 2, LogID: 3, ValType: DebugLogRegisterValue, ValRegIndex: 6},
		&DebugLog{Width: 4, LogID: 4, ValType: DebugLogMemoryRelAddr, Mem: MemoryHeap},
		&ResumeProcess{},
	)
	vm.DebugLog = func(id uint8, v uint64) { logged = append(logged, uint64(id)<<32|v) }
	vm.Execute(testMetadata(), env)
	assert.Equal(t, 1, env.pauses)
	assert.Equal(t, 1, env.resumes)
	assert.Equal(t, []uint64{3<<32 | 0x1234, 4<<32 | 0x99}, logged)
}

func TestSkipWithUnbalancedBlockPanics(t *testing.T) {
	// Unvalidated on purpose: the block never closes.
	vm := loadVM(t, cond(4, 0x100, CondEQ, 1), store(0, 1))
	assert.PanicsWithError(t, cheaterrors.ErrVMInvalidConditionDepth.Error(), func() {
		vm.Execute(testMetadata(), newTestEnv())
	})
}

func TestDecodeFailureStopsExecution(t *testing.T) {
	env := newTestEnv()
	words := append(EncodeProgram(store(0, 1)), 0xB0000000)
	words = append(words, EncodeProgram(store(4, 1))...)
	vm := NewVM()
	require.True(t, vm.LoadProgram([]types.CheatEntry{{CheatID: 1, Enabled: true, Definition: types.CheatDefinition{Opcodes: words}}}))
	vm.Execute(testMetadata(), env)
	assert.Equal(t, 1, env.writesTo(mainBase))
	assert.Zero(t, env.writesTo(mainBase+4))
}
