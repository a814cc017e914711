package types

import (
	"encoding/json"
	"fmt"
)

const (
	// MaxCheatCount is the number of non-master slots in the cheat table.
	MaxCheatCount = 0x80
	// CheatTableSize is the master slot plus MaxCheatCount.
	CheatTableSize = MaxCheatCount + 1
	// MaxCheatOpcodes bounds a single definition.
	MaxCheatOpcodes = 0x100
	// MaxReadableNameLength bounds CheatDefinition.ReadableName, in bytes.
	MaxReadableNameLength = 0x40
	// MasterCheatID is the table slot reserved for the master cheat.
	MasterCheatID = 0

	MaxFrozenAddresses = 0x80

	NumStaticRegisters         = 0x100
	NumReadableStaticRegisters = 0x80
)

type CheatDefinition struct {
	ReadableName string   `json:"readable_name"`
	Opcodes      []uint32 `json:"opcodes"`
}

// NumOpcodes is zero for an unused table slot.
func (d *CheatDefinition) NumOpcodes() int {
	return len(d.Opcodes)
}

// Clone returns a copy that does not share the opcode slice.
func (d CheatDefinition) Clone() CheatDefinition {
	return CheatDefinition{
		ReadableName: d.ReadableName,
		Opcodes:      append([]uint32(nil), d.Opcodes...),
	}
}

// ClampName truncates name to MaxReadableNameLength bytes.
func ClampName(name string) string {
	if len(name) > MaxReadableNameLength {
		return name[:MaxReadableNameLength]
	}
	return name
}

type CheatEntry struct {
	Enabled    bool            `json:"enabled"`
	CheatID    uint32          `json:"cheat_id"`
	Definition CheatDefinition `json:"definition"`
}

func (e *CheatEntry) IsMaster() bool {
	return e.CheatID == MasterCheatID
}

func (e *CheatEntry) String() string {
	state := "off"
	if e.Enabled {
		state = "on"
	}
	return fmt.Sprintf("#%d %q [%s] %d opcodes", e.CheatID, e.Definition.ReadableName, state, len(e.Definition.Opcodes))
}

type FrozenAddressValue struct {
	Value uint64 `json:"value"`
	Width uint8  `json:"width"`
}

type FrozenAddressEntry struct {
	Address uint64             `json:"address"`
	Value   FrozenAddressValue `json:"value"`
}

// IsValidFrozenWidth reports whether width is a power of two no larger than 8.
func IsValidFrozenWidth(width uint64) bool {
	return width > 0 && width <= 8 && width&(width-1) == 0
}

func (f FrozenAddressEntry) String() string {
	jsonData, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf("Error marshaling JSON: %v", err)
	}
	return string(jsonData)
}
