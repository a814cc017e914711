package rpc

import (
	"errors"
	"io"
	netrpc "net/rpc"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/types"
)

// Client calls the dmnt service. Errors raised by the manager come back
// matching their cheaterrors sentinel under errors.Is.
type Client struct {
	c *netrpc.Client
}

func Dial(address string) (*Client, error) {
	c, err := netrpc.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Client{c: c}, nil
}

func NewClient(conn io.ReadWriteCloser) *Client {
	return &Client{c: netrpc.NewClient(conn)}
}

func (c *Client) Close() error { return c.c.Close() }

var noArgs = []string{}

func (c *Client) call(method string, args any, reply any) error {
	err := c.c.Call(ServiceName+"."+method, args, reply)
	var se netrpc.ServerError
	if errors.As(err, &se) {
		return cheaterrors.FromString(string(se))
	}
	return err
}

func (c *Client) Functions() (map[string]string, error) {
	var res map[string]string
	err := c.call("Functions", noArgs, &res)
	return res, err
}

func (c *Client) HasCheatProcess() (bool, error) {
	var res bool
	err := c.call("HasCheatProcess", noArgs, &res)
	return res, err
}

func (c *Client) GetCheatProcessMetadata() (types.CheatProcessMetadata, error) {
	var res types.CheatProcessMetadata
	err := c.call("GetCheatProcessMetadata", noArgs, &res)
	return res, err
}

func (c *Client) ForceOpenCheatProcess() error {
	var res string
	return c.call("ForceOpenCheatProcess", noArgs, &res)
}

func (c *Client) ForceCloseCheatProcess() error {
	var res string
	return c.call("ForceCloseCheatProcess", noArgs, &res)
}

func (c *Client) PauseCheatProcess() error {
	var res string
	return c.call("PauseCheatProcess", noArgs, &res)
}

func (c *Client) ResumeCheatProcess() error {
	var res string
	return c.call("ResumeCheatProcess", noArgs, &res)
}

func (c *Client) GetCheatProcessMappingCount() (uint64, error) {
	var res uint64
	err := c.call("GetCheatProcessMappingCount", noArgs, &res)
	return res, err
}

func (c *Client) GetCheatProcessMappings(offset, max uint64) ([]types.MemoryInfo, error) {
	var res []types.MemoryInfo
	err := c.call("GetCheatProcessMappings", RangeArgs{Offset: offset, Max: max}, &res)
	return res, err
}

func (c *Client) ReadCheatProcessMemory(address, size uint64) ([]byte, error) {
	var res []byte
	err := c.call("ReadCheatProcessMemory", MemoryArgs{Address: address, Size: size}, &res)
	return res, err
}

func (c *Client) WriteCheatProcessMemory(address uint64, data []byte) error {
	var res string
	return c.call("WriteCheatProcessMemory", WriteArgs{Address: address, Data: data}, &res)
}

func (c *Client) QueryCheatProcessMemory(address uint64) (types.MemoryInfo, error) {
	var res types.MemoryInfo
	err := c.call("QueryCheatProcessMemory", address, &res)
	return res, err
}

func (c *Client) GetCheatCount() (uint64, error) {
	var res uint64
	err := c.call("GetCheatCount", noArgs, &res)
	return res, err
}

func (c *Client) GetCheats(offset, max uint64) ([]types.CheatEntry, error) {
	var res []types.CheatEntry
	err := c.call("GetCheats", RangeArgs{Offset: offset, Max: max}, &res)
	return res, err
}

func (c *Client) GetCheatById(id uint32) (types.CheatEntry, error) {
	var res types.CheatEntry
	err := c.call("GetCheatById", id, &res)
	return res, err
}

func (c *Client) GetCheatByName(name string) (types.CheatEntry, error) {
	var res types.CheatEntry
	err := c.call("GetCheatByName", name, &res)
	return res, err
}

func (c *Client) ToggleCheat(id uint32) error {
	var res string
	return c.call("ToggleCheat", id, &res)
}

func (c *Client) AddCheat(def types.CheatDefinition, enabled bool) (uint32, error) {
	var res uint32
	err := c.call("AddCheat", AddCheatArgs{Definition: def, Enabled: enabled}, &res)
	return res, err
}

func (c *Client) RemoveCheat(id uint32) error {
	var res string
	return c.call("RemoveCheat", id, &res)
}

func (c *Client) SetMasterCheat(def types.CheatDefinition) error {
	var res string
	return c.call("SetMasterCheat", def, &res)
}

func (c *Client) ReadStaticRegister(which uint64) (uint64, error) {
	var res uint64
	err := c.call("ReadStaticRegister", which, &res)
	return res, err
}

func (c *Client) WriteStaticRegister(which, value uint64) error {
	var res string
	return c.call("WriteStaticRegister", StaticRegisterArgs{Which: which, Value: value}, &res)
}

func (c *Client) ResetStaticRegisters() error {
	var res string
	return c.call("ResetStaticRegisters", noArgs, &res)
}

func (c *Client) GetFrozenAddressCount() (uint64, error) {
	var res uint64
	err := c.call("GetFrozenAddressCount", noArgs, &res)
	return res, err
}

func (c *Client) GetFrozenAddresses(offset, max uint64) ([]types.FrozenAddressEntry, error) {
	var res []types.FrozenAddressEntry
	err := c.call("GetFrozenAddresses", RangeArgs{Offset: offset, Max: max}, &res)
	return res, err
}

func (c *Client) GetFrozenAddress(address uint64) (types.FrozenAddressEntry, error) {
	var res types.FrozenAddressEntry
	err := c.call("GetFrozenAddress", address, &res)
	return res, err
}

func (c *Client) EnableFrozenAddress(address, width uint64) (uint64, error) {
	var res uint64
	err := c.call("EnableFrozenAddress", FrozenArgs{Address: address, Width: width}, &res)
	return res, err
}

func (c *Client) DisableFrozenAddress(address uint64) error {
	var res string
	return c.call("DisableFrozenAddress", address, &res)
}
