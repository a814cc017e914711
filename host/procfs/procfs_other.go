//go:build !linux

package procfs

import (
	"context"
	"errors"

	"github.com/colorfulnotion/dmnt/host"
)

var errUnsupported = errors.New("procfs host requires linux")

type Host struct{}

func New(procName string, programID uint64) *Host { return &Host{} }

func (h *Host) WaitForLaunch(ctx context.Context) (uint64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
func (h *Host) ApplicationProcessID() (uint64, error) { return 0, errUnsupported }
func (h *Host) GetProcessInfo(pid uint64) (host.ProcessInfo, error) {
	return host.ProcessInfo{}, errUnsupported
}
func (h *Host) GetProcessModules(pid uint64) ([]host.ModuleInfo, error) { return nil, errUnsupported }
func (h *Host) DebugProcess(pid uint64) (host.Debugger, error)         { return nil, errUnsupported }
func (h *Host) StartProcess(pid uint64) error                          { return errUnsupported }
func (h *Host) KeysHeld() uint64                                       { return 0 }
