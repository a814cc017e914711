package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/types"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyConfigFileFlagsWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheatd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rpc_port": 9000, "tick_rate": 30, "store": "leveldb"}`), 0o644))

	cfg := types.DefaultCommandConfig()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.IntVar(&cfg.RPCPort, "rpc-port", cfg.RPCPort, "")
	fs.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "")
	require.NoError(t, fs.Parse([]string{"--tick-rate", "60"}))

	require.NoError(t, applyConfigFile(fs, &cfg, path))
	assert.Equal(t, 9000, cfg.RPCPort)
	assert.Equal(t, 60, cfg.TickRate)
	assert.Equal(t, types.StoreLevelDB, cfg.Store)
	// untouched by both
	assert.Equal(t, types.HostSim, cfg.Host)
}

func TestApplyConfigFileMissing(t *testing.T) {
	cfg := types.DefaultCommandConfig()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	require.NoError(t, applyConfigFile(fs, &cfg, ""))
	require.Error(t, applyConfigFile(fs, &cfg, filepath.Join(t.TempDir(), "nope.json")))
}

func TestOpenStore(t *testing.T) {
	for _, kind := range []string{types.StoreFS, types.StoreLevelDB} {
		t.Run(kind, func(t *testing.T) {
			cfg := types.DefaultCommandConfig()
			cfg.DataDir = t.TempDir()
			cfg.Store = kind
			store, closeStore, err := openStore(cfg)
			require.NoError(t, err)
			defer closeStore()

			_, err = store.LoadCheats(1, make([]byte, types.BuildIDSize))
			require.ErrorIs(t, err, cheaterrors.ErrStoreNotExists)
			require.NoError(t, store.SaveToggles(1, "[a]\ntrue\n\n"))
			text, found, err := store.LoadToggles(1)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "[a]\ntrue\n\n", text)
		})
	}
}
