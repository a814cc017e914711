package dmnt

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/common"
	log "github.com/colorfulnotion/dmnt/log"
	"github.com/colorfulnotion/dmnt/types"
)

// MaxMemoryTransfer bounds a single ReadCheatProcessMemory call.
const MaxMemoryTransfer = 0x100000

// attachToApplicationProcess opens a session on the current application
// process, replacing any existing one. On a launch the held process is
// started whether or not the attach succeeds. Lock held.
func (cpm *CheatProcessManager) attachToApplicationProcess(onLaunch bool) (err error) {
	if cpm.debugger != nil {
		cpm.closeActiveCheatProcess()
	}

	pid, err := cpm.host.ApplicationProcessID()
	if err != nil {
		return fmt.Errorf("%w: %v", cheaterrors.ErrNotAttached, err)
	}

	attached := false
	defer func() {
		if attached {
			return
		}
		cpm.meta = types.CheatProcessMetadata{}
		if onLaunch {
			if serr := cpm.host.StartProcess(pid); serr != nil {
				log.Warn(log.ProcessMonitoring, "start process", "pid", pid, "err", serr)
			}
		}
		log.Debug(log.ProcessMonitoring, "attach skipped", "pid", pid, "launch", onLaunch, "err", err)
	}()

	cpm.meta.ProcessID = pid
	info, err := cpm.host.GetProcessInfo(pid)
	if err != nil {
		return fmt.Errorf("%w: process info: %v", cheaterrors.ErrNotAttached, err)
	}
	cpm.meta.ProgramID = info.ProgramID
	if onLaunch && !info.CheatsEnabled {
		return fmt.Errorf("%w: cheats disabled for launch", cheaterrors.ErrNotAttached)
	}
	cpm.meta.HeapExtents = info.HeapExtents
	cpm.meta.AliasExtents = info.AliasExtents
	cpm.meta.AslrExtents = info.AslrExtents

	modules, err := cpm.host.GetProcessModules(pid)
	if err != nil {
		return fmt.Errorf("%w: process modules: %v", cheaterrors.ErrNotAttached, err)
	}
	// A lone module is a homebrew loader; otherwise the main module follows rtld.
	switch len(modules) {
	case 1:
		modules = modules[:1]
	case 2:
		modules = modules[1:]
	default:
		return fmt.Errorf("%w: unexpected module count %d", cheaterrors.ErrNotAttached, len(modules))
	}
	cpm.meta.MainNsoExtents = types.MemoryRegionExtents{Base: modules[0].Base, Size: modules[0].Size}
	cpm.meta.MainNsoBuildID = modules[0].BuildID

	loaded := cpm.loadCheats(cpm.meta.ProgramID, cpm.meta.MainNsoBuildID[:])
	loaded = loaded && cpm.loadCheatToggles(cpm.meta.ProgramID)
	if !loaded && onLaunch {
		return fmt.Errorf("%w: no cheats for %s/%s", cheaterrors.ErrNotAttached,
			common.FormatProgramID(cpm.meta.ProgramID), common.FormatBuildID(cpm.meta.MainNsoBuildID[:]))
	}

	dbg, err := cpm.host.DebugProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: debug process: %v", cheaterrors.ErrNotAttached, err)
	}
	attached = true
	cpm.debugger = dbg
	cpm.sessionCtx, cpm.sessionCancel = context.WithCancel(context.Background())
	cpm.broken.release()

	if onLaunch {
		if err := cpm.host.StartProcess(pid); err != nil {
			log.Warn(log.ProcessMonitoring, "start process", "pid", pid, "err", err)
		}
	}

	select {
	case cpm.newSession <- struct{}{}:
	default:
	}
	log.Info(log.ProcessMonitoring, "attached", "pid", pid,
		"program", common.FormatProgramID(cpm.meta.ProgramID),
		"build", common.FormatBuildID(cpm.meta.MainNsoBuildID[:]),
		"cheats", cpm.cheatCount())
	cpm.publish(ProcessEvent{Attached: true, Metadata: cpm.meta})
	return nil
}

// closeActiveCheatProcess tears the session down. Idempotent. Lock held.
func (cpm *CheatProcessManager) closeActiveCheatProcess() {
	if cpm.debugger == nil {
		return
	}
	cpm.broken.release()
	cpm.sessionCancel()
	if err := cpm.debugger.Close(); err != nil {
		log.Warn(log.ProcessMonitoring, "close debugger", "err", err)
	}
	cpm.debugger = nil

	if cpm.cfg.AlwaysSaveCheatToggles || cpm.shouldSaveToggles {
		cpm.saveCheatToggles(cpm.meta.ProgramID)
		cpm.shouldSaveToggles = false
	}

	meta := cpm.meta
	cpm.meta = types.CheatProcessMetadata{}
	cpm.resetAllCheatEntries()
	cpm.frozen.reset()

	log.Info(log.ProcessMonitoring, "detached", "pid", meta.ProcessID, "program", common.FormatProgramID(meta.ProgramID))
	cpm.publish(ProcessEvent{Attached: false, Metadata: meta})
}

func (cpm *CheatProcessManager) loadCheats(programID uint64, buildID []byte) bool {
	cpm.resetAllCheatEntries()
	text, err := cpm.store.LoadCheats(programID, buildID)
	if err != nil {
		if errors.Is(err, cheaterrors.ErrStoreNotExists) {
			log.Debug(log.StoreMonitoring, "no cheats", "program", common.FormatProgramID(programID), "build", common.FormatBuildID(buildID))
		} else {
			log.Warn(log.StoreMonitoring, "load cheats", "err", err)
		}
		return false
	}
	table, err := ParseCheats(text, cpm.cfg.EnableCheatsByDefault)
	if err != nil {
		log.Warn(log.StoreMonitoring, "parse cheats", "program", common.FormatProgramID(programID), "err", err)
		return false
	}
	cpm.cheats = table
	return true
}

func (cpm *CheatProcessManager) loadCheatToggles(programID uint64) bool {
	cpm.shouldSaveToggles = false
	text, found, err := cpm.store.LoadToggles(programID)
	if err != nil {
		log.Warn(log.StoreMonitoring, "load toggles", "err", err)
		return true
	}
	if !found {
		return true
	}
	if err := ParseCheatToggles(cpm.cheats, text); err != nil {
		log.Warn(log.StoreMonitoring, "parse toggles", "program", common.FormatProgramID(programID), "err", err)
		return false
	}
	cpm.shouldSaveToggles = true
	cpm.needsReloadVMProgram = true
	return true
}

func (cpm *CheatProcessManager) saveCheatToggles(programID uint64) {
	if err := cpm.store.SaveToggles(programID, SerializeCheatToggles(cpm.cheats)); err != nil {
		log.Warn(log.StoreMonitoring, "save toggles", "program", common.FormatProgramID(programID), "err", err)
	}
}

// ForceOpenCheatProcess attaches to the running application without
// requiring a cheat file. It is a no-op when already attached.
func (cpm *CheatProcessManager) ForceOpenCheatProcess() error {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if cpm.hasActiveCheatProcess() {
		return nil
	}
	return cpm.attachToApplicationProcess(false)
}

func (cpm *CheatProcessManager) ForceCloseCheatProcess() {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	cpm.closeActiveCheatProcess()
}

func (cpm *CheatProcessManager) readCheatProcessMemoryUnsafe(addr uint64, buf []byte) error {
	return cpm.debugger.ReadMemory(addr, buf)
}

// writeCheatProcessMemoryUnsafe writes through the debugger and refreshes
// any frozen value the write overlaps, so the next reassertion keeps it.
func (cpm *CheatProcessManager) writeCheatProcessMemoryUnsafe(addr uint64, data []byte) error {
	if err := cpm.debugger.WriteMemory(addr, data); err != nil {
		return err
	}
	cpm.frozen.absorbWrite(addr, data)
	return nil
}

func (cpm *CheatProcessManager) pauseCheatProcessUnsafe() error {
	cpm.broken.hold()
	return cpm.debugger.Break()
}

func (cpm *CheatProcessManager) resumeCheatProcessUnsafe() error {
	cpm.broken.release()
	return cpm.debugger.Continue()
}

func (cpm *CheatProcessManager) ReadCheatProcessMemory(addr uint64, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, cheaterrors.ErrNullBuffer
	}
	if size > MaxMemoryTransfer {
		return nil, fmt.Errorf("%w: read of %d bytes", cheaterrors.ErrInvalidBuffer, size)
	}
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if err := cpm.readCheatProcessMemoryUnsafe(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (cpm *CheatProcessManager) WriteCheatProcessMemory(addr uint64, data []byte) error {
	if len(data) == 0 {
		return cheaterrors.ErrNullBuffer
	}
	if len(data) > MaxMemoryTransfer {
		return fmt.Errorf("%w: write of %d bytes", cheaterrors.ErrInvalidBuffer, len(data))
	}
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return err
	}
	return cpm.writeCheatProcessMemoryUnsafe(addr, data)
}

func (cpm *CheatProcessManager) QueryCheatProcessMemory(addr uint64) (types.MemoryInfo, error) {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return types.MemoryInfo{}, err
	}
	return cpm.debugger.QueryMemory(addr)
}

// PauseCheatProcess breaks the process. Debug events are left pending until
// ResumeCheatProcess or detach.
func (cpm *CheatProcessManager) PauseCheatProcess() error {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return err
	}
	return cpm.pauseCheatProcessUnsafe()
}

func (cpm *CheatProcessManager) ResumeCheatProcess() error {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return err
	}
	return cpm.resumeCheatProcessUnsafe()
}

// walkMappings visits every mapping from address 0 upward until fn returns
// false, the address space wraps or a query fails.
func (cpm *CheatProcessManager) walkMappings(fn func(mi types.MemoryInfo) bool) {
	addr := uint64(0)
	for {
		mi, err := cpm.debugger.QueryMemory(addr)
		if err != nil {
			return
		}
		if mi.Permission != types.PermNone && !fn(mi) {
			return
		}
		next := mi.Address + mi.Size
		if next == 0 || next <= addr {
			return
		}
		addr = next
	}
}

func (cpm *CheatProcessManager) GetCheatProcessMappingCount() (uint64, error) {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return 0, err
	}
	count := uint64(0)
	cpm.walkMappings(func(types.MemoryInfo) bool {
		count++
		return true
	})
	return count, nil
}

// GetCheatProcessMappings returns up to max accessible mappings after
// skipping the first offset of them.
func (cpm *CheatProcessManager) GetCheatProcessMappings(offset, max uint64) ([]types.MemoryInfo, error) {
	if max == 0 {
		return nil, cheaterrors.ErrNullBuffer
	}
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return nil, err
	}
	out := make([]types.MemoryInfo, 0)
	total := uint64(0)
	cpm.walkMappings(func(mi types.MemoryInfo) bool {
		if total >= offset {
			out = append(out, mi)
		}
		total++
		return uint64(len(out)) < max
	})
	return out, nil
}

// vmEnv is the cheatvm.HostEnv of the attached process. The VM task holds
// the manager lock for the whole pass.
type vmEnv struct {
	cpm *CheatProcessManager
}

func (e vmEnv) ReadMemoryUnsafe(addr uint64, buf []byte) error {
	return e.cpm.readCheatProcessMemoryUnsafe(addr, buf)
}

func (e vmEnv) WriteMemoryUnsafe(addr uint64, buf []byte) error {
	return e.cpm.writeCheatProcessMemoryUnsafe(addr, buf)
}

func (e vmEnv) PauseUnsafe() error { return e.cpm.pauseCheatProcessUnsafe() }

func (e vmEnv) ResumeUnsafe() error { return e.cpm.resumeCheatProcessUnsafe() }

func (e vmEnv) KeysHeld() uint64 { return e.cpm.host.KeysHeld() }
