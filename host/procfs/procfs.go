//go:build linux

// Package procfs attaches to ordinary Linux processes. Memory goes through
// process_vm_readv/writev, pausing through SIGSTOP/SIGCONT, mappings come
// from /proc/<pid>/maps and exit is observed on a pidfd.
package procfs

import (
	"bufio"
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/colorfulnotion/dmnt/common"
	"github.com/colorfulnotion/dmnt/host"
	log "github.com/colorfulnotion/dmnt/log"
	"github.com/colorfulnotion/dmnt/types"
)

const pollInterval = 250 * time.Millisecond

// userSpaceTop bounds the x86_64/arm64 canonical user address range.
const userSpaceTop = 0x0000_8000_0000_0000

type Host struct {
	procName  string
	programID uint64
	procRoot  string
	lastPID   uint64
}

// New watches for processes whose comm equals procName. A zero programID is
// derived from the executable path.
func New(procName string, programID uint64) *Host {
	return &Host{procName: procName, programID: programID, procRoot: "/proc"}
}

func (h *Host) findPID() (uint64, error) {
	entries, err := os.ReadDir(h.procRoot)
	if err != nil {
		return 0, err
	}
	var best uint64
	for _, e := range entries {
		pid, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join(h.procRoot, e.Name(), "comm"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(comm)) == h.procName && pid > best {
			best = pid
		}
	}
	if best == 0 {
		return 0, host.ErrNoApplication
	}
	return best, nil
}

// WaitForLaunch polls /proc for a matching process that was not seen before.
func (h *Host) WaitForLaunch(ctx context.Context) (uint64, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if pid, err := h.findPID(); err == nil && pid != h.lastPID {
			h.lastPID = pid
			log.Debug(log.HostMonitoring, "procfs launch", "pid", pid, "name", h.procName)
			return pid, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Host) ApplicationProcessID() (uint64, error) {
	return h.findPID()
}

func (h *Host) exePath(pid uint64) (string, error) {
	return os.Readlink(filepath.Join(h.procRoot, strconv.FormatUint(pid, 10), "exe"))
}

func (h *Host) GetProcessInfo(pid uint64) (host.ProcessInfo, error) {
	maps, err := readMaps(h.procRoot, pid)
	if err != nil {
		return host.ProcessInfo{}, err
	}
	info := host.ProcessInfo{
		ProgramID:     h.programID,
		AslrExtents:   types.MemoryRegionExtents{Base: 0, Size: userSpaceTop},
		CheatsEnabled: true,
	}
	if info.ProgramID == 0 {
		exe, err := h.exePath(pid)
		if err != nil {
			return host.ProcessInfo{}, err
		}
		info.ProgramID = common.HashProgramID(exe)
	}
	for _, m := range maps {
		switch m.path {
		case "[heap]":
			info.HeapExtents = types.MemoryRegionExtents{Base: m.start, Size: m.end - m.start}
		case "[stack]":
			info.AliasExtents = types.MemoryRegionExtents{Base: m.start, Size: m.end - m.start}
		}
	}
	return info, nil
}

// GetProcessModules reports the main executable only, spanning all of its
// file backed mappings.
func (h *Host) GetProcessModules(pid uint64) ([]host.ModuleInfo, error) {
	exe, err := h.exePath(pid)
	if err != nil {
		return nil, err
	}
	maps, err := readMaps(h.procRoot, pid)
	if err != nil {
		return nil, err
	}
	var mod host.ModuleInfo
	for _, m := range maps {
		if m.path != exe {
			continue
		}
		if mod.Size == 0 {
			mod.Base = m.start
		}
		mod.Size = m.end - mod.Base
	}
	if mod.Size == 0 {
		return nil, fmt.Errorf("pid %d: no mapping for %s", pid, exe)
	}
	exeLink := filepath.Join(h.procRoot, strconv.FormatUint(pid, 10), "exe")
	if id, err := gnuBuildID(exeLink); err == nil {
		copy(mod.BuildID[:], id)
	} else if sum, herr := hashFile(exeLink); herr == nil {
		log.Debug(log.HostMonitoring, "no build id note, using content hash", "pid", pid, "err", err)
		copy(mod.BuildID[:], sum)
	} else {
		log.Debug(log.HostMonitoring, "no build id", "pid", pid, "err", err, "hash", herr)
	}
	return []host.ModuleInfo{mod}, nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return common.HashReader(f)
}

func gnuBuildID(path string) ([]byte, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sec := f.Section(".note.gnu.build-id")
	if sec == nil {
		return nil, errors.New("missing .note.gnu.build-id")
	}
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	// namesz, descsz, type, "GNU\0", desc
	if len(data) < 16 {
		return nil, errors.New("short build-id note")
	}
	namesz := f.ByteOrder.Uint32(data[0:4])
	descsz := f.ByteOrder.Uint32(data[4:8])
	off := 12 + (namesz+3)&^3
	if uint32(len(data)) < off+descsz {
		return nil, errors.New("truncated build-id note")
	}
	return data[off : off+descsz], nil
}

func (h *Host) StartProcess(pid uint64) error {
	return unix.Kill(int(pid), unix.SIGCONT)
}

func (h *Host) KeysHeld() uint64 { return 0 }

func (h *Host) DebugProcess(pid uint64) (host.Debugger, error) {
	fd, err := unix.PidfdOpen(int(pid), 0)
	if err != nil {
		return nil, fmt.Errorf("pidfd_open %d: %w", pid, err)
	}
	return &debugger{pid: int(pid), pidfd: fd, procRoot: h.procRoot}, nil
}

type debugger struct {
	pid      int
	pidfd    int
	procRoot string
}

func (d *debugger) ReadMemory(addr uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(d.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("process_vm_readv %#x: %w", addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("process_vm_readv %#x: short read %d: %w", addr, n, host.ErrUnmapped)
	}
	return nil
}

func (d *debugger) WriteMemory(addr uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMWritev(d.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("process_vm_writev %#x: %w", addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("process_vm_writev %#x: short write %d: %w", addr, n, host.ErrUnmapped)
	}
	return nil
}

func (d *debugger) Break() error {
	return unix.Kill(d.pid, unix.SIGSTOP)
}

func (d *debugger) Continue() error {
	return unix.Kill(d.pid, unix.SIGCONT)
}

func (d *debugger) QueryMemory(addr uint64) (types.MemoryInfo, error) {
	maps, err := readMaps(d.procRoot, uint64(d.pid))
	if err != nil {
		return types.MemoryInfo{}, err
	}
	return queryMaps(maps, addr), nil
}

// WaitEvent has no debug events to report; it only waits for exit.
func (d *debugger) WaitEvent(ctx context.Context) (host.DebugEvent, error) {
	fds := []unix.PollFd{{Fd: int32(d.pidfd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(pollInterval/time.Millisecond))
		if err != nil && !errors.Is(err, unix.EINTR) {
			return host.DebugEvent{}, fmt.Errorf("poll pidfd: %w", err)
		}
		if n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			return host.DebugEvent{}, host.ErrProcessTerminated
		}
		if err := ctx.Err(); err != nil {
			return host.DebugEvent{}, err
		}
	}
}

func (d *debugger) Close() error {
	return unix.Close(d.pidfd)
}

type mapping struct {
	start, end uint64
	perm       uint32
	path       string
}

func readMaps(procRoot string, pid uint64) ([]mapping, error) {
	f, err := os.Open(filepath.Join(procRoot, strconv.FormatUint(pid, 10), "maps"))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMaps(bufio.NewScanner(f))
}

// parseMaps reads lines of the form
// "55d0c8a00000-55d0c8a21000 r-xp 00000000 08:01 1234  /usr/bin/game".
func parseMaps(sc *bufio.Scanner) ([]mapping, error) {
	var out []mapping
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		lo, hi, ok := strings.Cut(fields[0], "-")
		if !ok {
			return nil, fmt.Errorf("bad maps range %q", fields[0])
		}
		start, err := strconv.ParseUint(lo, 16, 64)
		if err != nil {
			return nil, err
		}
		end, err := strconv.ParseUint(hi, 16, 64)
		if err != nil {
			return nil, err
		}
		m := mapping{start: start, end: end}
		if strings.Contains(fields[1], "r") {
			m.perm |= types.PermRead
		}
		if strings.Contains(fields[1], "w") {
			m.perm |= types.PermWrite
		}
		if strings.Contains(fields[1], "x") {
			m.perm |= types.PermExecute
		}
		if len(fields) >= 6 {
			m.path = strings.Join(fields[5:], " ")
		}
		out = append(out, m)
	}
	return out, sc.Err()
}

func queryMaps(maps []mapping, addr uint64) types.MemoryInfo {
	for _, m := range maps {
		if addr >= m.start && addr < m.end {
			typ := uint32(types.MemTypeData)
			switch {
			case m.path == "[heap]":
				typ = types.MemTypeHeap
			case m.perm&types.PermExecute != 0:
				typ = types.MemTypeCode
			}
			return types.MemoryInfo{Address: m.start, Size: m.end - m.start, Type: typ, Permission: m.perm}
		}
		if m.start > addr {
			return types.MemoryInfo{Address: addr, Size: m.start - addr}
		}
	}
	return types.MemoryInfo{Address: addr, Size: -addr}
}
