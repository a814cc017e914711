package cheatvm

import "github.com/colorfulnotion/dmnt/common"

// Encode returns the opcode words for op. Decoding the result yields an
// opcode equal to op whenever every field fits its declared bit width.
func Encode(op Opcode) []uint32 {
	return op.encode()
}

// EncodeProgram concatenates the encodings of ops.
func EncodeProgram(ops ...Opcode) []uint32 {
	var words []uint32
	for _, op := range ops {
		words = append(words, op.encode()...)
	}
	return words
}

func n(v uint8, shift uint) uint32 {
	return uint32(v&0xF) << shift
}

func b2n(v bool, shift uint) uint32 {
	if v {
		return 1 << shift
	}
	return 0
}

func vmInt(width uint8, value uint64) []uint32 {
	switch width {
	case 1, 2, 4:
		return []uint32{uint32(common.MaskWidth(value, int(width)))}
	case 8:
		return []uint32{uint32(value >> 32), uint32(value)}
	}
	return []uint32{0}
}

func split64(v uint64) []uint32 {
	return []uint32{uint32(v >> 32), uint32(v)}
}

func (o *StoreStatic) encode() []uint32 {
	first := uint32(OpStoreStatic)<<28 | n(o.Width, 24) | n(uint8(o.Mem), 20) | n(o.OffsetRegister, 16) | uint32(o.RelAddress>>32)&0xFF
	return append([]uint32{first, uint32(o.RelAddress)}, vmInt(o.Width, o.Value)...)
}

func (o *BeginConditional) encode() []uint32 {
	first := uint32(OpBeginConditional)<<28 | n(o.Width, 24) | n(uint8(o.Mem), 20) | n(uint8(o.Cond), 16) |
		b2n(o.IncludeOfsReg, 12) | n(o.OfsRegIndex, 8) | uint32(o.RelAddress>>32)&0xFF
	return append([]uint32{first, uint32(o.RelAddress)}, vmInt(o.Width, o.Value)...)
}

func (o *EndConditional) encode() []uint32 {
	return []uint32{uint32(OpEndConditional)<<28 | b2n(o.IsElse, 24)}
}

func (o *ControlLoop) encode() []uint32 {
	first := uint32(OpControlLoop)<<28 | b2n(!o.StartLoop, 24) | n(o.RegIndex, 20)
	if o.StartLoop {
		return []uint32{first, o.NumIters}
	}
	return []uint32{first}
}

func (o *LoadRegisterStatic) encode() []uint32 {
	return append([]uint32{uint32(OpLoadRegisterStatic)<<28 | n(o.RegIndex, 16)}, split64(o.Value)...)
}

func (o *LoadRegisterMemory) encode() []uint32 {
	first := uint32(OpLoadRegisterMemory)<<28 | n(o.Width, 24) | n(uint8(o.Mem), 20) | n(o.RegIndex, 16) |
		n(o.LoadFromReg, 12) | n(o.OffsetRegister, 8) | uint32(o.RelAddress>>32)&0xFF
	return []uint32{first, uint32(o.RelAddress)}
}

func (o *StoreStaticToAddress) encode() []uint32 {
	first := uint32(OpStoreStaticToAddress)<<28 | n(o.Width, 24) | n(o.RegIndex, 16) |
		b2n(o.IncrementReg, 12) | b2n(o.AddOffsetReg, 8) | n(o.OffsetRegIndex, 4)
	return append([]uint32{first}, split64(o.Value)...)
}

func (o *PerformArithmeticStatic) encode() []uint32 {
	first := uint32(OpPerformArithmeticStatic)<<28 | n(o.Width, 24) | n(o.RegIndex, 16) | n(uint8(o.MathType), 12)
	return []uint32{first, o.Value}
}

func (o *BeginKeypressConditional) encode() []uint32 {
	return []uint32{uint32(OpBeginKeypressConditional)<<28 | o.KeyMask&0x0FFFFFFF}
}

func (o *PerformArithmeticRegister) encode() []uint32 {
	first := uint32(OpPerformArithmeticRegister)<<28 | n(o.Width, 24) | n(uint8(o.MathType), 20) |
		n(o.DstRegIndex, 16) | n(o.SrcReg1Index, 12) | b2n(o.HasImmediate, 8)
	if o.HasImmediate {
		return append([]uint32{first}, vmInt(o.Width, o.Value)...)
	}
	return []uint32{first | n(o.SrcReg2Index, 4)}
}

func (o *StoreRegisterToAddress) encode() []uint32 {
	first := uint32(OpStoreRegisterToAddress)<<28 | n(o.Width, 24) | n(o.StrRegIndex, 20) |
		n(o.AddrRegIndex, 16) | b2n(o.IncrementReg, 12) | n(uint8(o.OfsType), 8)
	switch o.OfsType {
	case OffsetReg:
		first |= n(o.OfsRegIndex, 4)
	case OffsetImm:
		first |= uint32(o.RelAddress>>32) & 0xF
		return []uint32{first, uint32(o.RelAddress)}
	case OffsetMemReg:
		first |= n(uint8(o.Mem), 4)
	case OffsetMemImm, OffsetMemImmReg:
		first |= n(uint8(o.Mem), 4) | uint32(o.RelAddress>>32)&0xF
		return []uint32{first, uint32(o.RelAddress)}
	}
	return []uint32{first}
}

func (o *BeginRegisterConditional) encode() []uint32 {
	first := uint32(OpBeginRegisterConditional)<<24 | n(o.Width, 20) | n(uint8(o.Cond), 16) |
		n(o.ValRegIndex, 12) | n(uint8(o.CompType), 8)
	switch o.CompType {
	case CompareMemoryRelAddr:
		first |= n(uint8(o.Mem), 4) | uint32(o.RelAddress>>32)&0xF
		return []uint32{first, uint32(o.RelAddress)}
	case CompareMemoryOfsReg:
		first |= n(uint8(o.Mem), 4) | n(o.OfsRegIndex, 0)
	case CompareRegisterRelAddr:
		first |= n(o.AddrRegIndex, 4) | uint32(o.RelAddress>>32)&0xF
		return []uint32{first, uint32(o.RelAddress)}
	case CompareRegisterOfsReg:
		first |= n(o.AddrRegIndex, 4) | n(o.OfsRegIndex, 0)
	case CompareStaticValue:
		return append([]uint32{first}, vmInt(o.Width, o.Value)...)
	case CompareOtherRegister:
		first |= n(o.OtherRegIndex, 4)
	}
	return []uint32{first}
}

func (o *SaveRestoreRegister) encode() []uint32 {
	return []uint32{uint32(OpSaveRestoreRegister)<<24 | n(o.DstIndex, 16) | n(o.SrcIndex, 8) | n(uint8(o.OpType), 4)}
}

func (o *SaveRestoreRegisterMask) encode() []uint32 {
	return []uint32{uint32(OpSaveRestoreRegisterMask)<<24 | n(uint8(o.OpType), 20) | uint32(o.Mask)}
}

func (o *ReadWriteStaticRegister) encode() []uint32 {
	return []uint32{uint32(OpReadWriteStaticRegister)<<24 | uint32(o.StaticIndex)<<4 | n(o.Index, 0)}
}

func (o *BeginExtendedKeypressConditional) encode() []uint32 {
	first := uint32(OpBeginExtendedKeypressConditional)<<24 | b2n(o.AutoRepeat, 20)
	return append([]uint32{first}, split64(o.KeyMask)...)
}

func (*PauseProcess) encode() []uint32 {
	return []uint32{uint32(OpPauseProcess) << 20}
}

func (*ResumeProcess) encode() []uint32 {
	return []uint32{uint32(OpResumeProcess) << 20}
}

func (o *DebugLog) encode() []uint32 {
	first := uint32(OpDebugLog)<<20 | n(o.Width, 16) | n(o.LogID, 12) | n(uint8(o.ValType), 8)
	switch o.ValType {
	case DebugLogMemoryRelAddr:
		first |= n(uint8(o.Mem), 4) | uint32(o.RelAddress>>32)&0xF
		return []uint32{first, uint32(o.RelAddress)}
	case DebugLogMemoryOfsReg:
		first |= n(uint8(o.Mem), 4) | n(o.OfsRegIndex, 0)
	case DebugLogRegisterRelAddr:
		first |= n(o.AddrRegIndex, 4) | uint32(o.RelAddress>>32)&0xF
		return []uint32{first, uint32(o.RelAddress)}
	case DebugLogRegisterOfsReg:
		first |= n(o.AddrRegIndex, 4) | n(o.OfsRegIndex, 0)
	case DebugLogRegisterValue:
		first |= n(o.ValRegIndex, 4)
	}
	return []uint32{first}
}
