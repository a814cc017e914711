package cheatvm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type opGen struct {
	r *rand.Rand
}

func (g opGen) nibble() uint8 { return uint8(g.r.Intn(16)) }
func (g opGen) bool() bool    { return g.r.Intn(2) == 1 }

// width favours the four valid widths but also produces unused nibbles.
func (g opGen) width() uint8 {
	if g.r.Intn(4) == 0 {
		return g.nibble()
	}
	return []uint8{1, 2, 4, 8}[g.r.Intn(4)]
}

func (g opGen) vmInt(width uint8) uint64 {
	v := g.r.Uint64()
	switch width {
	case 1:
		return uint64(uint8(v))
	case 2:
		return uint64(uint16(v))
	case 4:
		return uint64(uint32(v))
	case 8:
		return v
	}
	return 0
}

func (g opGen) rel40() uint64 { return g.r.Uint64() & (1<<40 - 1) }
func (g opGen) rel36() uint64 { return g.r.Uint64() & (1<<36 - 1) }

func (g opGen) opcode(kind int) Opcode {
	switch kind {
	case 0:
		w := g.width()
		return &StoreStatic{Width: w, Mem: MemoryAccessType(g.nibble()), OffsetRegister: g.nibble(), RelAddress: g.rel40(), Value: g.vmInt(w)}
	case 1:
		w := g.width()
		return &BeginConditional{Width: w, Mem: MemoryAccessType(g.nibble()), Cond: ConditionalComparisonType(g.nibble()),
			IncludeOfsReg: g.bool(), OfsRegIndex: g.nibble(), RelAddress: g.rel40(), Value: g.vmInt(w)}
	case 2:
		return &EndConditional{IsElse: g.bool()}
	case 3:
		if g.bool() {
			return &ControlLoop{StartLoop: true, RegIndex: g.nibble(), NumIters: g.r.Uint32()}
		}
		return &ControlLoop{RegIndex: g.nibble()}
	case 4:
		return &LoadRegisterStatic{RegIndex: g.nibble(), Value: g.r.Uint64()}
	case 5:
		return &LoadRegisterMemory{Width: g.nibble(), Mem: MemoryAccessType(g.nibble()), RegIndex: g.nibble(),
			LoadFromReg: g.nibble(), OffsetRegister: g.nibble(), RelAddress: g.rel40()}
	case 6:
		return &StoreStaticToAddress{Width: g.nibble(), RegIndex: g.nibble(), IncrementReg: g.bool(),
			AddOffsetReg: g.bool(), OffsetRegIndex: g.nibble(), Value: g.r.Uint64()}
	case 7:
		return &PerformArithmeticStatic{Width: g.nibble(), RegIndex: g.nibble(), MathType: RegisterArithmeticType(g.nibble()), Value: g.r.Uint32()}
	case 8:
		return &BeginKeypressConditional{KeyMask: g.r.Uint32() & 0x0FFFFFFF}
	case 9:
		w := g.width()
		o := &PerformArithmeticRegister{Width: w, MathType: RegisterArithmeticType(g.nibble()), DstRegIndex: g.nibble(), SrcReg1Index: g.nibble()}
		if g.bool() {
			o.HasImmediate = true
			o.Value = g.vmInt(w)
		} else {
			o.SrcReg2Index = g.nibble()
		}
		return o
	case 10:
		o := &StoreRegisterToAddress{Width: g.nibble(), StrRegIndex: g.nibble(), AddrRegIndex: g.nibble(),
			IncrementReg: g.bool(), OfsType: StoreRegisterOffsetType(g.r.Intn(6))}
		switch o.OfsType {
		case OffsetReg:
			o.OfsRegIndex = g.nibble()
		case OffsetImm:
			o.RelAddress = g.rel36()
		case OffsetMemReg:
			o.Mem = MemoryAccessType(g.nibble())
		case OffsetMemImm, OffsetMemImmReg:
			o.Mem = MemoryAccessType(g.nibble())
			o.RelAddress = g.rel36()
		}
		return o
	case 11:
		w := g.width()
		o := &BeginRegisterConditional{Width: w, Cond: ConditionalComparisonType(g.nibble()), ValRegIndex: g.nibble(),
			CompType: CompareRegisterValueType(g.r.Intn(6))}
		switch o.CompType {
		case CompareMemoryRelAddr:
			o.Mem = MemoryAccessType(g.nibble())
			o.RelAddress = g.rel36()
		case CompareMemoryOfsReg:
			o.Mem = MemoryAccessType(g.nibble())
			o.OfsRegIndex = g.nibble()
		case CompareRegisterRelAddr:
			o.AddrRegIndex = g.nibble()
			o.RelAddress = g.rel36()
		case CompareRegisterOfsReg:
			o.AddrRegIndex = g.nibble()
			o.OfsRegIndex = g.nibble()
		case CompareStaticValue:
			o.Value = g.vmInt(w)
		case CompareOtherRegister:
			o.OtherRegIndex = g.nibble()
		}
		return o
	case 12:
		return &SaveRestoreRegister{DstIndex: g.nibble(), SrcIndex: g.nibble(), OpType: SaveRestoreRegisterOpType(g.nibble())}
	case 13:
		return &SaveRestoreRegisterMask{OpType: SaveRestoreRegisterOpType(g.nibble()), Mask: uint16(g.r.Uint32())}
	case 14:
		return &ReadWriteStaticRegister{StaticIndex: uint8(g.r.Uint32()), Index: g.nibble()}
	case 15:
		return &BeginExtendedKeypressConditional{AutoRepeat: g.bool(), KeyMask: g.r.Uint64()}
	case 16:
		return &PauseProcess{}
	case 17:
		return &ResumeProcess{}
	default:
		o := &DebugLog{Width: g.nibble(), LogID: g.nibble(), ValType: DebugLogValueType(g.r.Intn(5))}
		switch o.ValType {
		case DebugLogMemoryRelAddr:
			o.Mem = MemoryAccessType(g.nibble())
			o.RelAddress = g.rel36()
		case DebugLogMemoryOfsReg:
			o.Mem = MemoryAccessType(g.nibble())
			o.OfsRegIndex = g.nibble()
		case DebugLogRegisterRelAddr:
			o.AddrRegIndex = g.nibble()
			o.RelAddress = g.rel36()
		case DebugLogRegisterOfsReg:
			o.AddrRegIndex = g.nibble()
			o.OfsRegIndex = g.nibble()
		case DebugLogRegisterValue:
			o.ValRegIndex = g.nibble()
		}
		return o
	}
}

const numOpcodeKinds = 19

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := opGen{r: rand.New(rand.NewSource(0x5eed))}
	for kind := 0; kind < numOpcodeKinds; kind++ {
		for i := 0; i < 500; i++ {
			op := g.opcode(kind)
			words := Encode(op)
			d := NewDecoder(words)
			got, ok := d.Next()
			require.True(t, ok, "decode %s from %08X", op, words)
			require.Equal(t, op, got, "words %08X", words)
			require.True(t, d.Done())
			require.False(t, d.Failed())
		}
	}
}

func TestEncodeDecodeStream(t *testing.T) {
	g := opGen{r: rand.New(rand.NewSource(7))}
	var ops []Opcode
	for i := 0; i < 200; i++ {
		ops = append(ops, g.opcode(g.r.Intn(numOpcodeKinds)))
	}
	decoded, _, ok := DecodeAll(EncodeProgram(ops...))
	require.True(t, ok)
	require.Equal(t, ops, decoded)
}

func TestDecodeKnownWords(t *testing.T) {
	d := NewDecoder([]uint32{0x04000000, 0x00123456, 0x00000064})
	op, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, &StoreStatic{Width: 4, Mem: MemoryMainNso, RelAddress: 0x123456, Value: 0x64}, op)

	d = NewDecoder([]uint32{0xC0130400, 0x00000063})
	op, ok = d.Next()
	require.True(t, ok)
	assert.Equal(t, &BeginRegisterConditional{Width: 1, Cond: CondLT, CompType: CompareStaticValue, Value: 0x63}, op)

	d = NewDecoder([]uint32{0xFF000000, 0xFF100000, 0x20000000, 0x21000000})
	for _, want := range []Opcode{&PauseProcess{}, &ResumeProcess{}, &EndConditional{}, &EndConditional{IsElse: true}} {
		op, ok = d.Next()
		require.True(t, ok)
		assert.Equal(t, want, op)
	}
}

func TestDecodeFailureLatches(t *testing.T) {
	// LoadRegisterStatic needs two more words.
	d := NewDecoder([]uint32{0x40000000, 0x00000001, 0x20000000})
	_, ok := d.Next()
	assert.True(t, ok, "third word is consumed as the low value word")

	d = NewDecoder([]uint32{0x40000000, 0x00000001})
	_, ok = d.Next()
	assert.False(t, ok)
	assert.True(t, d.Failed())

	for _, bad := range []uint32{0xB0000000, 0xD0000000, 0xE5000000, 0xC5000000, 0xF0000000, 0xFF200000} {
		d = NewDecoder([]uint32{bad, 0x20000000})
		_, ok = d.Next()
		assert.False(t, ok, "%08X", bad)
		assert.True(t, d.Failed(), "%08X", bad)
		_, ok = d.Next()
		assert.False(t, ok, "latch must hold for %08X", bad)
	}

	d.Reset([]uint32{0x20000000})
	_, ok = d.Next()
	assert.True(t, ok)
}

func TestVmIntUnusedWidthConsumesOneWord(t *testing.T) {
	d := NewDecoder([]uint32{0x03000000, 0x00000010, 0xFFFFFFFF, 0x20000000})
	op, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(0), op.(*StoreStatic).Value)
	assert.Equal(t, 3, d.Pos())
}

func TestStoreRegisterInvalidOffsetTypeIsNone(t *testing.T) {
	d := NewDecoder([]uint32{0xA4010900})
	op, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, OffsetNone, op.(*StoreRegisterToAddress).OfsType)
}
