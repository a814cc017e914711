package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MemoryRegionExtents is a [Base, Base+Size) span of the target's address space.
type MemoryRegionExtents struct {
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
}

func (e MemoryRegionExtents) Contains(addr uint64) bool {
	return addr >= e.Base && addr-e.Base < e.Size
}

const BuildIDSize = 0x20

type CheatProcessMetadata struct {
	ProcessID      uint64              `json:"process_id"`
	ProgramID      uint64              `json:"program_id"`
	MainNsoExtents MemoryRegionExtents `json:"main_nso_extents"`
	HeapExtents    MemoryRegionExtents `json:"heap_extents"`
	AliasExtents   MemoryRegionExtents `json:"alias_extents"`
	AslrExtents    MemoryRegionExtents `json:"address_space_extents"`
	MainNsoBuildID [BuildIDSize]byte   `json:"-"`
}

func (m CheatProcessMetadata) MarshalJSON() ([]byte, error) {
	type plain CheatProcessMetadata
	return json.Marshal(struct {
		plain
		BuildID string `json:"main_nso_build_id"`
	}{plain(m), hex.EncodeToString(m.MainNsoBuildID[:])})
}

func (m *CheatProcessMetadata) UnmarshalJSON(data []byte) error {
	type plain CheatProcessMetadata
	var aux struct {
		plain
		BuildID string `json:"main_nso_build_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = CheatProcessMetadata(aux.plain)
	if aux.BuildID != "" {
		b, err := hex.DecodeString(aux.BuildID)
		if err != nil {
			return fmt.Errorf("main_nso_build_id: %w", err)
		}
		copy(m.MainNsoBuildID[:], b)
	}
	return nil
}

// String method returns the metadata as a formatted JSON string
func (m *CheatProcessMetadata) String() string {
	jsonData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling JSON: %v", err)
	}
	return string(jsonData)
}

// Memory permissions reported by MemoryInfo.Permission.
const (
	PermNone    = 0
	PermRead    = 1 << 0
	PermWrite   = 1 << 1
	PermExecute = 1 << 2
)

// Memory types reported by MemoryInfo.Type.
const (
	MemTypeUnmapped = 0
	MemTypeCode     = 3
	MemTypeData     = 4
	MemTypeHeap     = 5
	MemTypeAlias    = 6
)

type MemoryInfo struct {
	Address    uint64 `json:"address"`
	Size       uint64 `json:"size"`
	Type       uint32 `json:"type"`
	Attribute  uint32 `json:"attribute"`
	Permission uint32 `json:"permission"`
}

func (mi MemoryInfo) End() uint64 {
	return mi.Address + mi.Size
}

func (mi MemoryInfo) String() string {
	perm := []byte("---")
	if mi.Permission&PermRead != 0 {
		perm[0] = 'r'
	}
	if mi.Permission&PermWrite != 0 {
		perm[1] = 'w'
	}
	if mi.Permission&PermExecute != 0 {
		perm[2] = 'x'
	}
	return fmt.Sprintf("%016x-%016x %s type=%d", mi.Address, mi.End(), perm, mi.Type)
}
