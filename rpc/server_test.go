package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/cheatvm"
	"github.com/colorfulnotion/dmnt/dmnt"
	"github.com/colorfulnotion/dmnt/host/sim"
	"github.com/colorfulnotion/dmnt/storage"
	"github.com/colorfulnotion/dmnt/types"
)

const (
	testProgramID = 0x0100000000010000
	testMainBase  = 0x0800_0000
	testHeapBase  = 0x4000_0000
)

func newTestManager(t *testing.T) (*dmnt.CheatProcessManager, *sim.Host) {
	t.Helper()
	h := sim.New()
	cpm := dmnt.NewCheatProcessManager(h, storage.NewFileStore(t.TempDir()), types.DefaultCommandConfig())
	return cpm, h
}

func launch(h *sim.Host) *sim.Process {
	return h.Launch(sim.ProcessConfig{
		ProgramID: testProgramID,
		MainBase:  testMainBase,
		MainSize:  0x2000,
		HeapBase:  testHeapBase,
		HeapSize:  0x2000,
		BuildID:   [types.BuildIDSize]byte{0x12, 0x34},
	})
}

func startServer(t *testing.T, cpm *dmnt.CheatProcessManager) *Client {
	t.Helper()
	srv, err := NewServer(cpm)
	require.NoError(t, err)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	client, err := Dial(l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return client
}

func TestRPCRoundTrip(t *testing.T) {
	cpm, h := newTestManager(t)
	client := startServer(t, cpm)

	attached, err := client.HasCheatProcess()
	require.NoError(t, err)
	assert.False(t, attached)

	_, err = client.GetCheatCount()
	require.ErrorIs(t, err, cheaterrors.ErrNotAttached)

	p := launch(h)
	require.NoError(t, client.ForceOpenCheatProcess())
	attached, err = client.HasCheatProcess()
	require.NoError(t, err)
	assert.True(t, attached)

	meta, err := client.GetCheatProcessMetadata()
	require.NoError(t, err)
	assert.Equal(t, p.PID(), meta.ProcessID)
	assert.Equal(t, uint64(testProgramID), meta.ProgramID)
	assert.Equal(t, byte(0x34), meta.MainNsoBuildID[1])

	// memory
	require.NoError(t, client.WriteCheatProcessMemory(testHeapBase, []byte{9, 8, 7, 6}))
	data, err := client.ReadCheatProcessMemory(testHeapBase, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7, 6}, data)
	_, err = client.ReadCheatProcessMemory(testHeapBase, 0)
	require.ErrorIs(t, err, cheaterrors.ErrNullBuffer)

	mi, err := client.QueryCheatProcessMemory(testHeapBase + 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(testHeapBase), mi.Address)
	count, err := client.GetCheatProcessMappingCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
	maps, err := client.GetCheatProcessMappings(0, 8)
	require.NoError(t, err)
	assert.Len(t, maps, 2)

	// cheats
	def := types.CheatDefinition{
		ReadableName: "coins",
		Opcodes:      cheatvm.Encode(&cheatvm.StoreStatic{Width: 4, Mem: cheatvm.MemoryHeap, RelAddress: 0x10, Value: 99}),
	}
	id, err := client.AddCheat(def, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)
	e, err := client.GetCheatById(id)
	require.NoError(t, err)
	assert.Equal(t, def.Opcodes, e.Definition.Opcodes)
	e, err = client.GetCheatByName("coins")
	require.NoError(t, err)
	assert.Equal(t, id, e.CheatID)
	cheats, err := client.GetCheats(0, 10)
	require.NoError(t, err)
	require.Len(t, cheats, 1)
	require.NoError(t, client.ToggleCheat(id))
	e, _ = client.GetCheatById(id)
	assert.False(t, e.Enabled)
	require.NoError(t, client.SetMasterCheat(def))
	require.ErrorIs(t, client.ToggleCheat(0), cheaterrors.ErrCannotDisable)
	require.ErrorIs(t, client.RemoveCheat(0), cheaterrors.ErrCannotDisable)
	require.NoError(t, client.SetMasterCheat(types.CheatDefinition{}))
	require.NoError(t, client.RemoveCheat(id))
	_, err = client.GetCheatById(id)
	require.ErrorIs(t, err, cheaterrors.ErrUnknownId)
	n, err := client.GetCheatCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	// static registers
	require.NoError(t, client.WriteStaticRegister(0x10, 77))
	v, err := client.ReadStaticRegister(0x10)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), v)
	require.NoError(t, client.ResetStaticRegisters())
	v, _ = client.ReadStaticRegister(0x10)
	assert.Zero(t, v)
	_, err = client.ReadStaticRegister(0x100)
	require.ErrorIs(t, err, cheaterrors.ErrInvalid)

	// frozen addresses
	val, err := client.EnableFrozenAddress(testHeapBase, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0809), val)
	_, err = client.EnableFrozenAddress(testHeapBase, 2)
	require.ErrorIs(t, err, cheaterrors.ErrFrozenAlreadyExists)
	_, err = client.EnableFrozenAddress(testHeapBase+8, 5)
	require.ErrorIs(t, err, cheaterrors.ErrFrozenInvalidWidth)
	fc, err := client.GetFrozenAddressCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fc)
	fe, err := client.GetFrozenAddress(testHeapBase)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), fe.Value.Width)
	list, err := client.GetFrozenAddresses(0, 4)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	require.NoError(t, client.DisableFrozenAddress(testHeapBase))
	require.ErrorIs(t, client.DisableFrozenAddress(testHeapBase), cheaterrors.ErrFrozenNotFound)

	// pause
	require.NoError(t, client.PauseCheatProcess())
	assert.True(t, p.Broken())
	require.NoError(t, client.ResumeCheatProcess())
	assert.False(t, p.Broken())

	require.NoError(t, client.ForceCloseCheatProcess())
	attached, _ = client.HasCheatProcess()
	assert.False(t, attached)
}

func TestRPCFunctions(t *testing.T) {
	cpm, _ := newTestManager(t)
	client := startServer(t, cpm)
	fns, err := client.Functions()
	require.NoError(t, err)
	assert.Equal(t, MethodDescriptionMap, fns)
	assert.Contains(t, fns, "EnableFrozenAddress")
}
