// Package host defines what the cheat process manager needs from the
// operating system: launch notification, process discovery and a debug
// handle with raw memory access.
package host

import (
	"context"
	"errors"

	"github.com/colorfulnotion/dmnt/types"
)

var (
	// ErrProcessTerminated is returned by Debugger.WaitEvent once the target exits.
	ErrProcessTerminated = errors.New("process terminated")
	ErrNoApplication     = errors.New("no application process")
	ErrUnmapped          = errors.New("address not mapped")
	ErrDebuggerClosed    = errors.New("debugger closed")
)

type ProcessInfo struct {
	ProgramID    uint64
	HeapExtents  types.MemoryRegionExtents
	AliasExtents types.MemoryRegionExtents
	AslrExtents  types.MemoryRegionExtents
	// CheatsEnabled is false when the launch asked to run without cheats.
	CheatsEnabled bool
}

type ModuleInfo struct {
	BuildID [types.BuildIDSize]byte
	Base    uint64
	Size    uint64
}

type DebugEventType uint8

const (
	DebugEventAttachProcess DebugEventType = iota
	DebugEventAttachThread
	DebugEventException
	DebugEventExitThread
)

type DebugEvent struct {
	Type     DebugEventType
	ThreadID uint64
}

// Debugger is an open debug session on one process.
type Debugger interface {
	ReadMemory(addr uint64, buf []byte) error
	WriteMemory(addr uint64, buf []byte) error
	Break() error
	Continue() error
	// QueryMemory returns the mapping containing addr, or the unmapped gap
	// that starts at addr with PermNone.
	QueryMemory(addr uint64) (types.MemoryInfo, error)
	// WaitEvent blocks until a debug event is pending, the process exits
	// (ErrProcessTerminated) or ctx is done.
	WaitEvent(ctx context.Context) (DebugEvent, error)
	Close() error
}

type Host interface {
	// WaitForLaunch blocks until a new application process is created and
	// held before its first instruction.
	WaitForLaunch(ctx context.Context) (uint64, error)
	ApplicationProcessID() (uint64, error)
	GetProcessInfo(pid uint64) (ProcessInfo, error)
	GetProcessModules(pid uint64) ([]ModuleInfo, error)
	DebugProcess(pid uint64) (Debugger, error)
	// StartProcess releases a process held by WaitForLaunch.
	StartProcess(pid uint64) error
	KeysHeld() uint64
}
