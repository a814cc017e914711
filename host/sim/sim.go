// Package sim is an in-memory Host. It backs the daemon's demo mode and the
// manager tests.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/colorfulnotion/dmnt/common"
	"github.com/colorfulnotion/dmnt/host"
	log "github.com/colorfulnotion/dmnt/log"
	"github.com/colorfulnotion/dmnt/types"
)

type region struct {
	base uint64
	perm uint32
	typ  uint32
	data []byte
}

func (r *region) end() uint64 { return r.base + uint64(len(r.data)) }

// ProcessConfig describes a simulated process. Modules default to a single
// main module covering MainBase.
type ProcessConfig struct {
	ProgramID     uint64
	MainBase      uint64
	MainSize      uint64
	HeapBase      uint64
	HeapSize      uint64
	BuildID       [types.BuildIDSize]byte
	CheatsDisable bool
	// ExtraModules are placed before the main module, as an rtld would be.
	ExtraModules []host.ModuleInfo
}

type Process struct {
	mu         sync.Mutex
	pid        uint64
	info       host.ProcessInfo
	modules    []host.ModuleInfo
	regions    []*region
	started    bool
	broken     bool
	terminated bool
	debugging  bool
	continues  int
	events     chan host.DebugEvent
	done       chan struct{}
}

func (p *Process) PID() uint64 { return p.pid }

func (p *Process) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Process) Broken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.broken
}

func (p *Process) Continues() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.continues
}

func (p *Process) Debugging() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debugging
}

// Map adds a zero filled mapping.
func (p *Process) Map(base, size uint64, perm uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mapLocked(base, size, perm, types.MemTypeData)
}

func (p *Process) mapLocked(base, size uint64, perm, typ uint32) {
	if size == 0 {
		return
	}
	p.regions = append(p.regions, &region{base: base, perm: perm, typ: typ, data: make([]byte, size)})
	sort.Slice(p.regions, func(i, j int) bool { return p.regions[i].base < p.regions[j].base })
}

func (p *Process) find(addr uint64, n int) *region {
	for _, r := range p.regions {
		if addr >= r.base && addr+uint64(n) <= r.end() {
			return r
		}
	}
	return nil
}

// Poke writes memory as the process itself would, outside any debug session.
func (p *Process) Poke(addr uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.find(addr, len(data))
	if r == nil {
		return fmt.Errorf("poke %#x: %w", addr, host.ErrUnmapped)
	}
	copy(r.data[addr-r.base:], data)
	return nil
}

func (p *Process) Peek(addr uint64, n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.find(addr, n)
	if r == nil {
		return nil, fmt.Errorf("peek %#x: %w", addr, host.ErrUnmapped)
	}
	return append([]byte(nil), r.data[addr-r.base:addr-r.base+uint64(n)]...), nil
}

// RaiseEvent queues a debug event for the attached debugger.
func (p *Process) RaiseEvent(ev host.DebugEvent) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

type Host struct {
	mu       sync.Mutex
	nextPID  uint64
	procs    map[uint64]*Process
	app      *Process
	launches chan uint64
	keys     atomic.Uint64
}

func New() *Host {
	return &Host{
		nextPID:  0x50,
		procs:    make(map[uint64]*Process),
		launches: make(chan uint64, 8),
	}
}

// Launch creates a held application process and signals WaitForLaunch.
func (h *Host) Launch(cfg ProcessConfig) *Process {
	h.mu.Lock()
	h.nextPID++
	p := &Process{
		pid:    h.nextPID,
		events: make(chan host.DebugEvent, 16),
		done:   make(chan struct{}),
		info: host.ProcessInfo{
			ProgramID:     cfg.ProgramID,
			HeapExtents:   types.MemoryRegionExtents{Base: cfg.HeapBase, Size: cfg.HeapSize},
			AliasExtents:  types.MemoryRegionExtents{Base: 0x10_0000_0000, Size: 0x10_0000_0000},
			AslrExtents:   types.MemoryRegionExtents{Base: 0x0800_0000, Size: 0x7F_F800_0000},
			CheatsEnabled: !cfg.CheatsDisable,
		},
	}
	p.modules = append(p.modules, cfg.ExtraModules...)
	p.modules = append(p.modules, host.ModuleInfo{BuildID: cfg.BuildID, Base: cfg.MainBase, Size: cfg.MainSize})
	p.mapLocked(cfg.MainBase, cfg.MainSize, types.PermRead|types.PermWrite|types.PermExecute, types.MemTypeCode)
	p.mapLocked(cfg.HeapBase, cfg.HeapSize, types.PermRead|types.PermWrite, types.MemTypeHeap)
	h.procs[p.pid] = p
	h.app = p
	h.mu.Unlock()

	log.Debug(log.HostMonitoring, "sim launch", "pid", p.pid, "program", common.FormatProgramID(cfg.ProgramID))
	h.launches <- p.pid
	return p
}

// Terminate ends the process. Pending WaitEvent calls return ErrProcessTerminated.
func (h *Host) Terminate(pid uint64) {
	h.mu.Lock()
	p, ok := h.procs[pid]
	if ok && h.app == p {
		h.app = nil
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	if !p.terminated {
		p.terminated = true
		close(p.done)
	}
	p.mu.Unlock()
	log.Debug(log.HostMonitoring, "sim terminate", "pid", pid)
}

func (h *Host) SetKeysHeld(keys uint64) { h.keys.Store(keys) }

func (h *Host) KeysHeld() uint64 { return h.keys.Load() }

func (h *Host) Process(pid uint64) (*Process, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.procs[pid]
	return p, ok
}

func (h *Host) WaitForLaunch(ctx context.Context) (uint64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case pid := <-h.launches:
		return pid, nil
	}
}

func (h *Host) ApplicationProcessID() (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.app == nil {
		return 0, host.ErrNoApplication
	}
	return h.app.pid, nil
}

func (h *Host) lookup(pid uint64) (*Process, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.procs[pid]
	if !ok {
		return nil, fmt.Errorf("pid %d: %w", pid, host.ErrNoApplication)
	}
	return p, nil
}

func (h *Host) GetProcessInfo(pid uint64) (host.ProcessInfo, error) {
	p, err := h.lookup(pid)
	if err != nil {
		return host.ProcessInfo{}, err
	}
	return p.info, nil
}

func (h *Host) GetProcessModules(pid uint64) ([]host.ModuleInfo, error) {
	p, err := h.lookup(pid)
	if err != nil {
		return nil, err
	}
	return append([]host.ModuleInfo(nil), p.modules...), nil
}

func (h *Host) StartProcess(pid uint64) error {
	p, err := h.lookup(pid)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

func (h *Host) DebugProcess(pid uint64) (host.Debugger, error) {
	p, err := h.lookup(pid)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return nil, host.ErrProcessTerminated
	}
	p.debugging = true
	return &debugger{p: p}, nil
}

type debugger struct {
	p      *Process
	closed atomic.Bool
}

func (d *debugger) check() error {
	if d.closed.Load() {
		return host.ErrDebuggerClosed
	}
	return nil
}

func (d *debugger) ReadMemory(addr uint64, buf []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	r := d.p.find(addr, len(buf))
	if r == nil || r.perm&types.PermRead == 0 {
		return fmt.Errorf("read %#x+%d: %w", addr, len(buf), host.ErrUnmapped)
	}
	copy(buf, r.data[addr-r.base:])
	return nil
}

func (d *debugger) WriteMemory(addr uint64, buf []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	r := d.p.find(addr, len(buf))
	if r == nil {
		return fmt.Errorf("write %#x+%d: %w", addr, len(buf), host.ErrUnmapped)
	}
	copy(r.data[addr-r.base:], buf)
	return nil
}

func (d *debugger) Break() error {
	if err := d.check(); err != nil {
		return err
	}
	d.p.mu.Lock()
	d.p.broken = true
	d.p.mu.Unlock()
	return nil
}

func (d *debugger) Continue() error {
	if err := d.check(); err != nil {
		return err
	}
	d.p.mu.Lock()
	d.p.broken = false
	d.p.continues++
	d.p.mu.Unlock()
	return nil
}

func (d *debugger) QueryMemory(addr uint64) (types.MemoryInfo, error) {
	if err := d.check(); err != nil {
		return types.MemoryInfo{}, err
	}
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	for _, r := range d.p.regions {
		if addr >= r.base && addr < r.end() {
			return types.MemoryInfo{Address: r.base, Size: uint64(len(r.data)), Type: r.typ, Permission: r.perm}, nil
		}
		if r.base > addr {
			return types.MemoryInfo{Address: addr, Size: r.base - addr, Type: types.MemTypeUnmapped}, nil
		}
	}
	// The final gap runs to the top of the address space.
	return types.MemoryInfo{Address: addr, Size: -addr, Type: types.MemTypeUnmapped}, nil
}

func (d *debugger) WaitEvent(ctx context.Context) (host.DebugEvent, error) {
	if err := d.check(); err != nil {
		return host.DebugEvent{}, err
	}
	select {
	case <-ctx.Done():
		return host.DebugEvent{}, ctx.Err()
	case <-d.p.done:
		return host.DebugEvent{}, host.ErrProcessTerminated
	case ev := <-d.p.events:
		return ev, nil
	}
}

func (d *debugger) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.p.mu.Lock()
	d.p.debugging = false
	d.p.broken = false
	d.p.mu.Unlock()
	return nil
}
