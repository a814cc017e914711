package dmnt

import (
	"cmp"

	"github.com/colorfulnotion/dmnt/common"
	"github.com/colorfulnotion/dmnt/types"
	"golang.org/x/exp/slices"
)

// frozenTable keeps up to MaxFrozenAddresses entries in a fixed arena with
// an index sorted by address.
type frozenTable struct {
	arena [types.MaxFrozenAddresses]types.FrozenAddressEntry
	free  []int
	index []int
}

func newFrozenTable() *frozenTable {
	t := &frozenTable{}
	t.reset()
	return t
}

func (t *frozenTable) reset() {
	t.free = t.free[:0]
	for i := types.MaxFrozenAddresses - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	t.index = t.index[:0]
	t.arena = [types.MaxFrozenAddresses]types.FrozenAddressEntry{}
}

func (t *frozenTable) len() int { return len(t.index) }

func (t *frozenTable) full() bool { return len(t.free) == 0 }

func (t *frozenTable) search(addr uint64) (int, bool) {
	return slices.BinarySearchFunc(t.index, addr, func(slot int, target uint64) int {
		return cmp.Compare(t.arena[slot].Address, target)
	})
}

func (t *frozenTable) get(addr uint64) (*types.FrozenAddressEntry, bool) {
	pos, ok := t.search(addr)
	if !ok {
		return nil, false
	}
	return &t.arena[t.index[pos]], true
}

// insert returns false when addr is present or the arena is full.
func (t *frozenTable) insert(addr uint64, value types.FrozenAddressValue) bool {
	pos, ok := t.search(addr)
	if ok || t.full() {
		return false
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.arena[slot] = types.FrozenAddressEntry{Address: addr, Value: value}
	t.index = slices.Insert(t.index, pos, slot)
	return true
}

func (t *frozenTable) remove(addr uint64) bool {
	pos, ok := t.search(addr)
	if !ok {
		return false
	}
	slot := t.index[pos]
	t.index = slices.Delete(t.index, pos, pos+1)
	t.arena[slot] = types.FrozenAddressEntry{}
	t.free = append(t.free, slot)
	return true
}

// each visits entries in address order until fn returns false.
func (t *frozenTable) each(fn func(e *types.FrozenAddressEntry) bool) {
	for _, slot := range t.index {
		if !fn(&t.arena[slot]) {
			return
		}
	}
}

// page copies up to max entries after skipping offset of them.
func (t *frozenTable) page(offset, max uint64) []types.FrozenAddressEntry {
	out := make([]types.FrozenAddressEntry, 0)
	for i := offset; i < uint64(len(t.index)) && uint64(len(out)) < max; i++ {
		out = append(out, t.arena[t.index[i]])
	}
	return out
}

// absorbWrite copies the bytes of a write at [addr, addr+len(data)) into
// every frozen entry whose address falls inside it.
func (t *frozenTable) absorbWrite(addr uint64, data []byte) {
	end := addr + uint64(len(data))
	t.each(func(e *types.FrozenAddressEntry) bool {
		if e.Address >= end {
			return false
		}
		if e.Address >= addr {
			off := e.Address - addr
			n := min(uint64(e.Value.Width), uint64(len(data))-off)
			buf := common.EncodeUint64(e.Value.Value)
			copy(buf[:n], data[off:off+n])
			e.Value.Value = common.DecodeWidth(buf)
		}
		return true
	})
}
