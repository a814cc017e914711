package cheatvm

// Decoder walks a flat opcode word stream. Once a decode fails, because the
// opcode is unknown or the stream ends mid-instruction, every later call to
// Next fails as well until Reset.
type Decoder struct {
	words  []uint32
	ip     int
	failed bool
}

func NewDecoder(words []uint32) *Decoder {
	return &Decoder{words: words}
}

// Reset rewinds to the start of words and clears the failure latch.
func (d *Decoder) Reset(words []uint32) {
	d.words = words
	d.ip = 0
	d.failed = false
}

// Pos is the index of the next word to be decoded.
func (d *Decoder) Pos() int { return d.ip }

// Seek moves the cursor. Used by loop ends to jump back to the loop top.
func (d *Decoder) Seek(ip int) { d.ip = ip }

// Failed reports whether the latch is set.
func (d *Decoder) Failed() bool { return d.failed }

// Done reports whether the stream is exhausted or the latch is set.
func (d *Decoder) Done() bool { return d.failed || d.ip >= len(d.words) }

func (d *Decoder) nextWord() uint32 {
	if d.ip >= len(d.words) {
		d.failed = true
		return 0
	}
	w := d.words[d.ip]
	d.ip++
	return w
}

// nextVmInt reads an immediate sized by width.
func (d *Decoder) nextVmInt(width uint8) uint64 {
	switch width {
	case 1:
		return uint64(uint8(d.nextWord()))
	case 2:
		return uint64(uint16(d.nextWord()))
	case 4:
		return uint64(d.nextWord())
	case 8:
		hi := uint64(d.nextWord())
		return hi<<32 | uint64(d.nextWord())
	}
	d.nextWord()
	return 0
}

func (d *Decoder) next64() uint64 {
	hi := uint64(d.nextWord())
	return hi<<32 | uint64(d.nextWord())
}

func nib(w uint32, shift uint) uint8 {
	return uint8((w >> shift) & 0xF)
}

// Next decodes one opcode. It returns false at the end of the stream and on
// any decode failure.
func (d *Decoder) Next() (Opcode, bool) {
	if d.failed {
		return nil, false
	}
	if d.ip >= len(d.words) {
		return nil, false
	}
	first := d.nextWord()
	code := CodeType(first >> 28)
	if code >= OpExtendedWidth {
		code = code<<4 | CodeType((first>>24)&0xF)
	}
	if code >= OpDoubleExtendedWidth {
		code = code<<4 | CodeType((first>>20)&0xF)
	}

	var op Opcode
	switch code {
	case OpStoreStatic:
		o := &StoreStatic{
			Width:          nib(first, 24),
			Mem:            MemoryAccessType(nib(first, 20)),
			OffsetRegister: nib(first, 16),
		}
		o.RelAddress = uint64(first&0xFF)<<32 | uint64(d.nextWord())
		o.Value = d.nextVmInt(o.Width)
		op = o
	case OpBeginConditional:
		o := &BeginConditional{
			Width:         nib(first, 24),
			Mem:           MemoryAccessType(nib(first, 20)),
			Cond:          ConditionalComparisonType(nib(first, 16)),
			IncludeOfsReg: nib(first, 12) != 0,
			OfsRegIndex:   nib(first, 8),
		}
		o.RelAddress = uint64(first&0xFF)<<32 | uint64(d.nextWord())
		o.Value = d.nextVmInt(o.Width)
		op = o
	case OpEndConditional:
		op = &EndConditional{IsElse: nib(first, 24) == 1}
	case OpControlLoop:
		o := &ControlLoop{StartLoop: nib(first, 24) == 0, RegIndex: nib(first, 20)}
		if o.StartLoop {
			o.NumIters = d.nextWord()
		}
		op = o
	case OpLoadRegisterStatic:
		op = &LoadRegisterStatic{RegIndex: nib(first, 16), Value: d.next64()}
	case OpLoadRegisterMemory:
		o := &LoadRegisterMemory{
			Width:          nib(first, 24),
			Mem:            MemoryAccessType(nib(first, 20)),
			RegIndex:       nib(first, 16),
			LoadFromReg:    nib(first, 12),
			OffsetRegister: nib(first, 8),
		}
		o.RelAddress = uint64(first&0xFF)<<32 | uint64(d.nextWord())
		op = o
	case OpStoreStaticToAddress:
		op = &StoreStaticToAddress{
			Width:          nib(first, 24),
			RegIndex:       nib(first, 16),
			IncrementReg:   nib(first, 12) != 0,
			AddOffsetReg:   nib(first, 8) != 0,
			OffsetRegIndex: nib(first, 4),
			Value:          d.next64(),
		}
	case OpPerformArithmeticStatic:
		op = &PerformArithmeticStatic{
			Width:    nib(first, 24),
			RegIndex: nib(first, 16),
			MathType: RegisterArithmeticType(nib(first, 12)),
			Value:    d.nextWord(),
		}
	case OpBeginKeypressConditional:
		op = &BeginKeypressConditional{KeyMask: first & 0x0FFFFFFF}
	case OpPerformArithmeticRegister:
		o := &PerformArithmeticRegister{
			Width:        nib(first, 24),
			MathType:     RegisterArithmeticType(nib(first, 20)),
			DstRegIndex:  nib(first, 16),
			SrcReg1Index: nib(first, 12),
			HasImmediate: nib(first, 8) != 0,
		}
		if o.HasImmediate {
			o.Value = d.nextVmInt(o.Width)
		} else {
			o.SrcReg2Index = nib(first, 4)
		}
		op = o
	case OpStoreRegisterToAddress:
		o := &StoreRegisterToAddress{
			Width:        nib(first, 24),
			StrRegIndex:  nib(first, 20),
			AddrRegIndex: nib(first, 16),
			IncrementReg: nib(first, 12) != 0,
			OfsType:      StoreRegisterOffsetType(nib(first, 8)),
		}
		switch o.OfsType {
		case OffsetNone:
		case OffsetReg:
			o.OfsRegIndex = nib(first, 4)
		case OffsetImm:
			o.RelAddress = uint64(first&0xF)<<32 | uint64(d.nextWord())
		case OffsetMemReg:
			o.Mem = MemoryAccessType(nib(first, 4))
		case OffsetMemImm, OffsetMemImmReg:
			o.Mem = MemoryAccessType(nib(first, 4))
			o.RelAddress = uint64(first&0xF)<<32 | uint64(d.nextWord())
		default:
			o.OfsType = OffsetNone
		}
		op = o
	case OpBeginRegisterConditional:
		o := &BeginRegisterConditional{
			Width:       nib(first, 20),
			Cond:        ConditionalComparisonType(nib(first, 16)),
			ValRegIndex: nib(first, 12),
			CompType:    CompareRegisterValueType(nib(first, 8)),
		}
		switch o.CompType {
		case CompareMemoryRelAddr:
			o.Mem = MemoryAccessType(nib(first, 4))
			o.RelAddress = uint64(first&0xF)<<32 | uint64(d.nextWord())
		case CompareMemoryOfsReg:
			o.Mem = MemoryAccessType(nib(first, 4))
			o.OfsRegIndex = nib(first, 0)
		case CompareRegisterRelAddr:
			o.AddrRegIndex = nib(first, 4)
			o.RelAddress = uint64(first&0xF)<<32 | uint64(d.nextWord())
		case CompareRegisterOfsReg:
			o.AddrRegIndex = nib(first, 4)
			o.OfsRegIndex = nib(first, 0)
		case CompareStaticValue:
			o.Value = d.nextVmInt(o.Width)
		case CompareOtherRegister:
			o.OtherRegIndex = nib(first, 4)
		}
		op = o
	case OpSaveRestoreRegister:
		op = &SaveRestoreRegister{
			DstIndex: nib(first, 16),
			SrcIndex: nib(first, 8),
			OpType:   SaveRestoreRegisterOpType(nib(first, 4)),
		}
	case OpSaveRestoreRegisterMask:
		op = &SaveRestoreRegisterMask{
			OpType: SaveRestoreRegisterOpType(nib(first, 20)),
			Mask:   uint16(first),
		}
	case OpReadWriteStaticRegister:
		op = &ReadWriteStaticRegister{
			StaticIndex: uint8(first >> 4),
			Index:       nib(first, 0),
		}
	case OpBeginExtendedKeypressConditional:
		op = &BeginExtendedKeypressConditional{
			AutoRepeat: nib(first, 20) != 0,
			KeyMask:    d.next64(),
		}
	case OpPauseProcess:
		op = &PauseProcess{}
	case OpResumeProcess:
		op = &ResumeProcess{}
	case OpDebugLog:
		o := &DebugLog{
			Width:   nib(first, 16),
			LogID:   nib(first, 12),
			ValType: DebugLogValueType(nib(first, 8)),
		}
		switch o.ValType {
		case DebugLogMemoryRelAddr:
			o.Mem = MemoryAccessType(nib(first, 4))
			o.RelAddress = uint64(first&0xF)<<32 | uint64(d.nextWord())
		case DebugLogMemoryOfsReg:
			o.Mem = MemoryAccessType(nib(first, 4))
			o.OfsRegIndex = nib(first, 0)
		case DebugLogRegisterRelAddr:
			o.AddrRegIndex = nib(first, 4)
			o.RelAddress = uint64(first&0xF)<<32 | uint64(d.nextWord())
		case DebugLogRegisterOfsReg:
			o.AddrRegIndex = nib(first, 4)
			o.OfsRegIndex = nib(first, 0)
		case DebugLogRegisterValue:
			o.ValRegIndex = nib(first, 4)
		}
		op = o
	default:
		d.failed = true
		return nil, false
	}
	if d.failed {
		return nil, false
	}
	return op, true
}

// DecodeAll decodes every opcode in words. It returns the opcodes decoded
// before a failure and the word offset at which the failing opcode began.
func DecodeAll(words []uint32) ([]Opcode, int, bool) {
	d := NewDecoder(words)
	var ops []Opcode
	for {
		start := d.Pos()
		op, ok := d.Next()
		if !ok {
			if d.Failed() {
				return ops, start, false
			}
			return ops, start, true
		}
		ops = append(ops, op)
	}
}
