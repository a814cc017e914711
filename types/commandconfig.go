package types

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	StoreFS      = "fs"
	StoreLevelDB = "leveldb"

	HostSim    = "sim"
	HostProcfs = "procfs"

	DefaultTickRate = 12
)

type CommandConfig struct {
	DataDir                string `json:"datadir"`
	Store                  string `json:"store"`
	Host                   string `json:"host"`
	ProcName               string `json:"procname"`
	ProgramID              uint64 `json:"program_id"`
	RPCPort                int    `json:"rpc_port"`
	WSPort                 int    `json:"ws_port"`
	TickRate               int    `json:"tick_rate"`
	LogLevel               string `json:"log_level"`
	LogJson                bool   `json:"logjson"`
	DebugModules           string `json:"debug"`
	EnableCheatsByDefault  bool   `json:"enable_cheats_by_default"`
	AlwaysSaveCheatToggles bool   `json:"always_save_cheat_toggles"`
}

// DefaultCommandConfig mirrors the flag defaults of cheatd.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		DataDir:               "atmosphere",
		Store:                 StoreFS,
		Host:                  HostSim,
		RPCPort:               21100,
		WSPort:                21101,
		TickRate:              DefaultTickRate,
		LogLevel:              "info",
		EnableCheatsByDefault: true,
	}
}

// LoadCommandConfig overlays the JSON file at path onto c. Fields absent from
// the file keep their current value.
func (c *CommandConfig) LoadCommandConfig(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return c.Validate()
}

func (c *CommandConfig) Validate() error {
	switch c.Store {
	case StoreFS, StoreLevelDB:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Host {
	case HostSim, HostProcfs:
	default:
		return fmt.Errorf("unknown host %q", c.Host)
	}
	if c.Host == HostProcfs && c.ProcName == "" {
		return fmt.Errorf("host %s requires procname", HostProcfs)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("tick rate must be positive, got %d", c.TickRate)
	}
	return nil
}

// TickInterval is the VM execution period derived from TickRate.
func (c *CommandConfig) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / DefaultTickRate
	}
	return time.Second / time.Duration(c.TickRate)
}

// String method returns the CommandConfig as a formatted JSON string
func (c *CommandConfig) String() string {
	jsonData, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling JSON: %v", err)
	}
	return string(jsonData)
}
