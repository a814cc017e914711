package dmnt

import (
	"fmt"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/cheatvm"
	"github.com/colorfulnotion/dmnt/common"
	log "github.com/colorfulnotion/dmnt/log"
	"github.com/colorfulnotion/dmnt/types"
)

func (cpm *CheatProcessManager) resetAllCheatEntries() {
	cpm.cheats = NewCheatTable()
	cpm.needsReloadVMProgram = true
	cpm.overCapacityLogged = false
}

func (cpm *CheatProcessManager) cheatCount() uint64 {
	n := uint64(0)
	for i := range cpm.cheats {
		if cpm.cheats[i].Definition.NumOpcodes() > 0 {
			n++
		}
	}
	return n
}

func cloneEntry(e *types.CheatEntry) types.CheatEntry {
	return types.CheatEntry{Enabled: e.Enabled, CheatID: e.CheatID, Definition: e.Definition.Clone()}
}

// cheatEntry returns the occupied slot id or ErrUnknownId.
func (cpm *CheatProcessManager) cheatEntry(id uint32) (*types.CheatEntry, error) {
	if id >= types.CheatTableSize || cpm.cheats[id].Definition.NumOpcodes() == 0 {
		return nil, fmt.Errorf("%w: %d", cheaterrors.ErrUnknownId, id)
	}
	return &cpm.cheats[id], nil
}

func validateDefinition(def types.CheatDefinition) error {
	if def.NumOpcodes() == 0 {
		return fmt.Errorf("%w: empty definition", cheaterrors.ErrInvalid)
	}
	if def.NumOpcodes() > types.MaxCheatOpcodes {
		return fmt.Errorf("%w: %d opcodes", cheaterrors.ErrInvalid, def.NumOpcodes())
	}
	if len(def.ReadableName) > types.MaxReadableNameLength {
		return fmt.Errorf("%w: name longer than %d bytes", cheaterrors.ErrInvalid, types.MaxReadableNameLength)
	}
	if err := cheatvm.Validate(def.Opcodes); err != nil {
		return fmt.Errorf("%w: %v", cheaterrors.ErrInvalid, err)
	}
	return nil
}

func (cpm *CheatProcessManager) GetCheatCount() (uint64, error) {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return 0, err
	}
	return cpm.cheatCount(), nil
}

// GetCheats returns up to max occupied entries in slot order after skipping
// the first offset of them.
func (cpm *CheatProcessManager) GetCheats(offset, max uint64) ([]types.CheatEntry, error) {
	if max == 0 {
		return nil, cheaterrors.ErrNullBuffer
	}
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return nil, err
	}
	out := make([]types.CheatEntry, 0)
	total := uint64(0)
	for i := range cpm.cheats {
		if uint64(len(out)) >= max {
			break
		}
		if cpm.cheats[i].Definition.NumOpcodes() == 0 {
			continue
		}
		total++
		if total > offset {
			out = append(out, cloneEntry(&cpm.cheats[i]))
		}
	}
	return out, nil
}

func (cpm *CheatProcessManager) GetCheatById(id uint32) (types.CheatEntry, error) {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return types.CheatEntry{}, err
	}
	e, err := cpm.cheatEntry(id)
	if err != nil {
		return types.CheatEntry{}, err
	}
	return cloneEntry(e), nil
}

// GetCheatByName looks up a non-master entry by its readable name.
func (cpm *CheatProcessManager) GetCheatByName(name string) (types.CheatEntry, error) {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return types.CheatEntry{}, err
	}
	idx := findByName(cpm.cheats, name)
	if idx < 0 {
		return types.CheatEntry{}, fmt.Errorf("%w: cheat %q", cheaterrors.ErrNotFound, name)
	}
	return cloneEntry(&cpm.cheats[idx]), nil
}

func (cpm *CheatProcessManager) ToggleCheat(id uint32) error {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return err
	}
	e, err := cpm.cheatEntry(id)
	if err != nil {
		return err
	}
	if e.IsMaster() {
		return cheaterrors.ErrCannotDisable
	}
	e.Enabled = !e.Enabled
	cpm.shouldSaveToggles = true
	cpm.needsReloadVMProgram = true
	log.Debug(log.CheatMonitoring, "toggle", "id", id, "enabled", e.Enabled)
	return nil
}

// AddCheat stores def in the first free slot and returns its id.
func (cpm *CheatProcessManager) AddCheat(def types.CheatDefinition, enabled bool) (uint32, error) {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return 0, err
	}
	if err := validateDefinition(def); err != nil {
		return 0, err
	}
	idx := firstFree(cpm.cheats)
	if idx < 0 {
		return 0, cheaterrors.ErrOutOfResource
	}
	e := &cpm.cheats[idx]
	e.Enabled = enabled
	e.Definition = def.Clone()
	cpm.needsReloadVMProgram = true
	log.Debug(log.CheatMonitoring, "add", "id", e.CheatID, "name", def.ReadableName, "opcodes", def.NumOpcodes())
	return e.CheatID, nil
}

// RemoveCheat clears a non-master slot. The master entry is cleared with an
// empty SetMasterCheat instead.
func (cpm *CheatProcessManager) RemoveCheat(id uint32) error {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return err
	}
	if id >= types.CheatTableSize {
		return fmt.Errorf("%w: %d", cheaterrors.ErrUnknownId, id)
	}
	if id == types.MasterCheatID {
		return cheaterrors.ErrCannotDisable
	}
	cpm.cheats[id] = types.CheatEntry{CheatID: id}
	cpm.needsReloadVMProgram = true
	log.Debug(log.CheatMonitoring, "remove", "id", id)
	return nil
}

// SetMasterCheat replaces slot 0 and enables it. An empty definition clears
// the master entry.
func (cpm *CheatProcessManager) SetMasterCheat(def types.CheatDefinition) error {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return err
	}
	master := &cpm.cheats[types.MasterCheatID]
	if def.NumOpcodes() == 0 {
		*master = types.CheatEntry{CheatID: types.MasterCheatID}
		cpm.needsReloadVMProgram = true
		return nil
	}
	if err := validateDefinition(def); err != nil {
		return err
	}
	master.Enabled = true
	master.Definition = def.Clone()
	cpm.needsReloadVMProgram = true
	return nil
}

func checkStaticRegister(which uint64) error {
	if which >= types.NumStaticRegisters {
		return fmt.Errorf("%w: static register %d", cheaterrors.ErrInvalid, which)
	}
	return nil
}

func (cpm *CheatProcessManager) ReadStaticRegister(which uint64) (uint64, error) {
	if err := checkStaticRegister(which); err != nil {
		return 0, err
	}
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return 0, err
	}
	return cpm.vm.GetStaticRegister(int(which)), nil
}

func (cpm *CheatProcessManager) WriteStaticRegister(which, value uint64) error {
	if err := checkStaticRegister(which); err != nil {
		return err
	}
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return err
	}
	cpm.vm.SetStaticRegister(int(which), value)
	return nil
}

func (cpm *CheatProcessManager) ResetStaticRegisters() error {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return err
	}
	cpm.vm.ResetStaticRegisters()
	return nil
}

func (cpm *CheatProcessManager) GetFrozenAddressCount() (uint64, error) {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return 0, err
	}
	return uint64(cpm.frozen.len()), nil
}

func (cpm *CheatProcessManager) GetFrozenAddresses(offset, max uint64) ([]types.FrozenAddressEntry, error) {
	if max == 0 {
		return nil, cheaterrors.ErrNullBuffer
	}
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return nil, err
	}
	return cpm.frozen.page(offset, max), nil
}

func (cpm *CheatProcessManager) GetFrozenAddress(addr uint64) (types.FrozenAddressEntry, error) {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return types.FrozenAddressEntry{}, err
	}
	e, ok := cpm.frozen.get(addr)
	if !ok {
		return types.FrozenAddressEntry{}, fmt.Errorf("%w: %#x", cheaterrors.ErrFrozenNotFound, addr)
	}
	return *e, nil
}

// EnableFrozenAddress freezes width bytes at addr to their current value,
// which is returned.
func (cpm *CheatProcessManager) EnableFrozenAddress(addr, width uint64) (uint64, error) {
	if !types.IsValidFrozenWidth(width) {
		return 0, fmt.Errorf("%w: %d", cheaterrors.ErrFrozenInvalidWidth, width)
	}
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return 0, err
	}
	if _, ok := cpm.frozen.get(addr); ok {
		return 0, fmt.Errorf("%w: %#x", cheaterrors.ErrFrozenAlreadyExists, addr)
	}
	if cpm.frozen.full() {
		return 0, cheaterrors.ErrFrozenOutOfResource
	}
	buf := make([]byte, width)
	if err := cpm.readCheatProcessMemoryUnsafe(addr, buf); err != nil {
		return 0, err
	}
	value := types.FrozenAddressValue{Value: common.DecodeWidth(buf), Width: uint8(width)}
	cpm.frozen.insert(addr, value)
	log.Debug(log.CheatMonitoring, "freeze", "addr", fmt.Sprintf("%#x", addr), "width", width, "value", value.Value)
	return value.Value, nil
}

func (cpm *CheatProcessManager) DisableFrozenAddress(addr uint64) error {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return err
	}
	if !cpm.frozen.remove(addr) {
		return fmt.Errorf("%w: %#x", cheaterrors.ErrFrozenNotFound, addr)
	}
	return nil
}

// applyFrozenAddresses rewrites every frozen value through the raw debugger,
// skipping the write-through refresh. Lock held.
func (cpm *CheatProcessManager) applyFrozenAddresses() {
	cpm.frozen.each(func(e *types.FrozenAddressEntry) bool {
		data := common.EncodeWidth(e.Value.Value, int(e.Value.Width))
		if err := cpm.debugger.WriteMemory(e.Address, data); err != nil {
			log.Trace(log.CheatMonitoring, "frozen write", "addr", fmt.Sprintf("%#x", e.Address), "err", err)
		}
		return true
	})
}
