// Package rpc exposes the cheat process manager over net/rpc and streams
// attach/detach events to websocket clients.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"

	"github.com/colorfulnotion/dmnt/dmnt"
	log "github.com/colorfulnotion/dmnt/log"
	"github.com/colorfulnotion/dmnt/types"
	"golang.org/x/exp/maps"
)

const ServiceName = "dmnt"

type RangeArgs struct {
	Offset uint64
	Max    uint64
}

type MemoryArgs struct {
	Address uint64
	Size    uint64
}

type WriteArgs struct {
	Address uint64
	Data    []byte
}

type AddCheatArgs struct {
	Definition types.CheatDefinition
	Enabled    bool
}

type StaticRegisterArgs struct {
	Which uint64
	Value uint64
}

type FrozenArgs struct {
	Address uint64
	Width   uint64
}

// Dmnt is the net/rpc receiver. Methods with no arguments take an ignored
// []string, and methods with no result reply "OK".
type Dmnt struct {
	cpm *dmnt.CheatProcessManager
}

var MethodDescriptionMap = map[string]string{
	"Functions":                   "Functions() -> map of method descriptions",
	"HasCheatProcess":             "HasCheatProcess() -> bool",
	"GetCheatProcessMetadata":     "GetCheatProcessMetadata() -> CheatProcessMetadata",
	"ForceOpenCheatProcess":       "ForceOpenCheatProcess() -> OK",
	"ForceCloseCheatProcess":      "ForceCloseCheatProcess() -> OK",
	"PauseCheatProcess":           "PauseCheatProcess() -> OK",
	"ResumeCheatProcess":          "ResumeCheatProcess() -> OK",
	"GetCheatProcessMappingCount": "GetCheatProcessMappingCount() -> uint64",
	"GetCheatProcessMappings":     "GetCheatProcessMappings(offset, max uint64) -> []MemoryInfo",
	"ReadCheatProcessMemory":      "ReadCheatProcessMemory(address, size uint64) -> []byte",
	"WriteCheatProcessMemory":     "WriteCheatProcessMemory(address uint64, data []byte) -> OK",
	"QueryCheatProcessMemory":     "QueryCheatProcessMemory(address uint64) -> MemoryInfo",
	"GetCheatCount":               "GetCheatCount() -> uint64",
	"GetCheats":                   "GetCheats(offset, max uint64) -> []CheatEntry",
	"GetCheatById":                "GetCheatById(id uint32) -> CheatEntry",
	"GetCheatByName":              "GetCheatByName(name string) -> CheatEntry",
	"ToggleCheat":                 "ToggleCheat(id uint32) -> OK",
	"AddCheat":                    "AddCheat(definition CheatDefinition, enabled bool) -> uint32",
	"RemoveCheat":                 "RemoveCheat(id uint32) -> OK",
	"SetMasterCheat":              "SetMasterCheat(definition CheatDefinition) -> OK",
	"ReadStaticRegister":          "ReadStaticRegister(which uint64) -> uint64",
	"WriteStaticRegister":         "WriteStaticRegister(which, value uint64) -> OK",
	"ResetStaticRegisters":        "ResetStaticRegisters() -> OK",
	"GetFrozenAddressCount":       "GetFrozenAddressCount() -> uint64",
	"GetFrozenAddresses":          "GetFrozenAddresses(offset, max uint64) -> []FrozenAddressEntry",
	"GetFrozenAddress":            "GetFrozenAddress(address uint64) -> FrozenAddressEntry",
	"EnableFrozenAddress":         "EnableFrozenAddress(address, width uint64) -> uint64",
	"DisableFrozenAddress":        "DisableFrozenAddress(address uint64) -> OK",
}

func ok(res *string, err error) error {
	if err != nil {
		return err
	}
	*res = "OK"
	return nil
}

func (d *Dmnt) Functions(req []string, res *map[string]string) error {
	*res = maps.Clone(MethodDescriptionMap)
	return nil
}

func (d *Dmnt) HasCheatProcess(req []string, res *bool) error {
	*res = d.cpm.HasCheatProcess()
	return nil
}

func (d *Dmnt) GetCheatProcessMetadata(req []string, res *types.CheatProcessMetadata) (err error) {
	*res, err = d.cpm.GetCheatProcessMetadata()
	return err
}

func (d *Dmnt) ForceOpenCheatProcess(req []string, res *string) error {
	return ok(res, d.cpm.ForceOpenCheatProcess())
}

func (d *Dmnt) ForceCloseCheatProcess(req []string, res *string) error {
	d.cpm.ForceCloseCheatProcess()
	return ok(res, nil)
}

func (d *Dmnt) PauseCheatProcess(req []string, res *string) error {
	return ok(res, d.cpm.PauseCheatProcess())
}

func (d *Dmnt) ResumeCheatProcess(req []string, res *string) error {
	return ok(res, d.cpm.ResumeCheatProcess())
}

func (d *Dmnt) GetCheatProcessMappingCount(req []string, res *uint64) (err error) {
	*res, err = d.cpm.GetCheatProcessMappingCount()
	return err
}

func (d *Dmnt) GetCheatProcessMappings(req RangeArgs, res *[]types.MemoryInfo) (err error) {
	*res, err = d.cpm.GetCheatProcessMappings(req.Offset, req.Max)
	return err
}

func (d *Dmnt) ReadCheatProcessMemory(req MemoryArgs, res *[]byte) (err error) {
	*res, err = d.cpm.ReadCheatProcessMemory(req.Address, req.Size)
	return err
}

func (d *Dmnt) WriteCheatProcessMemory(req WriteArgs, res *string) error {
	return ok(res, d.cpm.WriteCheatProcessMemory(req.Address, req.Data))
}

func (d *Dmnt) QueryCheatProcessMemory(address uint64, res *types.MemoryInfo) (err error) {
	*res, err = d.cpm.QueryCheatProcessMemory(address)
	return err
}

func (d *Dmnt) GetCheatCount(req []string, res *uint64) (err error) {
	*res, err = d.cpm.GetCheatCount()
	return err
}

func (d *Dmnt) GetCheats(req RangeArgs, res *[]types.CheatEntry) (err error) {
	*res, err = d.cpm.GetCheats(req.Offset, req.Max)
	return err
}

func (d *Dmnt) GetCheatById(id uint32, res *types.CheatEntry) (err error) {
	*res, err = d.cpm.GetCheatById(id)
	return err
}

func (d *Dmnt) GetCheatByName(name string, res *types.CheatEntry) (err error) {
	*res, err = d.cpm.GetCheatByName(name)
	return err
}

func (d *Dmnt) ToggleCheat(id uint32, res *string) error {
	return ok(res, d.cpm.ToggleCheat(id))
}

func (d *Dmnt) AddCheat(req AddCheatArgs, res *uint32) (err error) {
	*res, err = d.cpm.AddCheat(req.Definition, req.Enabled)
	return err
}

func (d *Dmnt) RemoveCheat(id uint32, res *string) error {
	return ok(res, d.cpm.RemoveCheat(id))
}

func (d *Dmnt) SetMasterCheat(def types.CheatDefinition, res *string) error {
	return ok(res, d.cpm.SetMasterCheat(def))
}

func (d *Dmnt) ReadStaticRegister(which uint64, res *uint64) (err error) {
	*res, err = d.cpm.ReadStaticRegister(which)
	return err
}

func (d *Dmnt) WriteStaticRegister(req StaticRegisterArgs, res *string) error {
	return ok(res, d.cpm.WriteStaticRegister(req.Which, req.Value))
}

func (d *Dmnt) ResetStaticRegisters(req []string, res *string) error {
	return ok(res, d.cpm.ResetStaticRegisters())
}

func (d *Dmnt) GetFrozenAddressCount(req []string, res *uint64) (err error) {
	*res, err = d.cpm.GetFrozenAddressCount()
	return err
}

func (d *Dmnt) GetFrozenAddresses(req RangeArgs, res *[]types.FrozenAddressEntry) (err error) {
	*res, err = d.cpm.GetFrozenAddresses(req.Offset, req.Max)
	return err
}

func (d *Dmnt) GetFrozenAddress(address uint64, res *types.FrozenAddressEntry) (err error) {
	*res, err = d.cpm.GetFrozenAddress(address)
	return err
}

func (d *Dmnt) EnableFrozenAddress(req FrozenArgs, res *uint64) (err error) {
	*res, err = d.cpm.EnableFrozenAddress(req.Address, req.Width)
	return err
}

func (d *Dmnt) DisableFrozenAddress(address uint64, res *string) error {
	return ok(res, d.cpm.DisableFrozenAddress(address))
}

type Server struct {
	rpc *netrpc.Server
}

func NewServer(cpm *dmnt.CheatProcessManager) (*Server, error) {
	s := netrpc.NewServer()
	if err := s.RegisterName(ServiceName, &Dmnt{cpm: cpm}); err != nil {
		return nil, fmt.Errorf("register %s: %w", ServiceName, err)
	}
	return &Server{rpc: s}, nil
}

// Serve accepts connections on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	log.Info(log.RPCMonitoring, "RPC server started", "addr", l.Addr().String())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn(log.RPCMonitoring, "accept", "err", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	return s.Serve(ctx, l)
}
