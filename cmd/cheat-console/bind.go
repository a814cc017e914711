package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/colorfulnotion/dmnt/common"
	"github.com/colorfulnotion/dmnt/rpc"
	"github.com/colorfulnotion/dmnt/types"
	"github.com/dop251/goja"
)

// bindClient installs a global `dmnt` object whose methods call the daemon.
// Errors surface as JS exceptions.
func bindClient(vm *goja.Runtime, c *rpc.Client) error {
	obj := vm.NewObject()
	set := func(name string, fn any) {
		if err := obj.Set(name, fn); err != nil {
			panic(err)
		}
	}

	set("Functions", c.Functions)
	set("HasCheatProcess", c.HasCheatProcess)
	set("GetCheatProcessMetadata", c.GetCheatProcessMetadata)
	set("ForceOpenCheatProcess", c.ForceOpenCheatProcess)
	set("ForceCloseCheatProcess", c.ForceCloseCheatProcess)
	set("PauseCheatProcess", c.PauseCheatProcess)
	set("ResumeCheatProcess", c.ResumeCheatProcess)
	set("GetCheatProcessMappingCount", c.GetCheatProcessMappingCount)
	set("GetCheatProcessMappings", c.GetCheatProcessMappings)
	set("QueryCheatProcessMemory", c.QueryCheatProcessMemory)
	// memory is exchanged as hex strings
	set("ReadCheatProcessMemory", func(address, size uint64) (string, error) {
		data, err := c.ReadCheatProcessMemory(address, size)
		return hex.EncodeToString(data), err
	})
	set("WriteCheatProcessMemory", func(address uint64, data string) error {
		b, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
		if err != nil {
			return err
		}
		return c.WriteCheatProcessMemory(address, b)
	})

	set("GetCheatCount", c.GetCheatCount)
	set("GetCheats", c.GetCheats)
	set("GetCheatById", c.GetCheatById)
	set("GetCheatByName", c.GetCheatByName)
	set("ToggleCheat", c.ToggleCheat)
	set("RemoveCheat", c.RemoveCheat)
	set("AddCheat", func(name, code string, enabled bool) (uint32, error) {
		def, err := parseDefinition(name, code)
		if err != nil {
			return 0, err
		}
		return c.AddCheat(def, enabled)
	})
	set("SetMasterCheat", func(name, code string) error {
		def, err := parseDefinition(name, code)
		if err != nil {
			return err
		}
		return c.SetMasterCheat(def)
	})

	set("ReadStaticRegister", c.ReadStaticRegister)
	set("WriteStaticRegister", c.WriteStaticRegister)
	set("ResetStaticRegisters", c.ResetStaticRegisters)

	set("GetFrozenAddressCount", c.GetFrozenAddressCount)
	set("GetFrozenAddresses", c.GetFrozenAddresses)
	set("GetFrozenAddress", c.GetFrozenAddress)
	set("EnableFrozenAddress", c.EnableFrozenAddress)
	set("DisableFrozenAddress", c.DisableFrozenAddress)

	return vm.Set("dmnt", obj)
}

// parseDefinition reads opcode words written as whitespace separated
// 8-digit hex, the way they appear in cheat files.
func parseDefinition(name, code string) (types.CheatDefinition, error) {
	def := types.CheatDefinition{ReadableName: name}
	for _, tok := range strings.Fields(code) {
		w, ok := common.ParseHexWord(tok)
		if !ok {
			return def, fmt.Errorf("opcode %q: want 8 hex digits", tok)
		}
		def.Opcodes = append(def.Opcodes, w)
	}
	return def, nil
}
