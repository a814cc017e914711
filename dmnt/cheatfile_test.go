package dmnt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/types"
)

const sampleCheats = `
{Master Code}
04000000 00001000 00000001

[Infinite Health]
04000000 00000100 0000270F

[--SectionStart:Items--]
[99 Coins]
04010000 00000010 00000063
[Max Speed]
04000000 00000200 3F800000
`

func TestParseCheats(t *testing.T) {
	table, err := ParseCheats(sampleCheats, true)
	require.NoError(t, err)
	require.Len(t, table, types.CheatTableSize)

	master := table[types.MasterCheatID]
	assert.Equal(t, "Master Code", master.Definition.ReadableName)
	assert.Equal(t, []uint32{0x04000000, 0x00001000, 0x00000001}, master.Definition.Opcodes)
	assert.True(t, master.Enabled)

	// the empty section header is overwritten by the next name
	assert.Equal(t, "Infinite Health", table[1].Definition.ReadableName)
	assert.Equal(t, "99 Coins", table[2].Definition.ReadableName)
	assert.Equal(t, []uint32{0x04010000, 0x00000010, 0x00000063}, table[2].Definition.Opcodes)
	assert.Equal(t, "Max Speed", table[3].Definition.ReadableName)
	assert.Equal(t, 0, table[4].Definition.NumOpcodes())
	assert.Empty(t, table[4].Definition.ReadableName)
	for i := 1; i <= 3; i++ {
		assert.True(t, table[i].Enabled, "entry %d", i)
		assert.Equal(t, uint32(i), table[i].CheatID)
	}
}

func TestParseCheatsDisabledByDefault(t *testing.T) {
	table, err := ParseCheats(sampleCheats, false)
	require.NoError(t, err)
	assert.True(t, table[0].Enabled)
	assert.False(t, table[1].Enabled)
	assert.False(t, table[3].Enabled)
}

func TestParseCheatsErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"opcode outside cheat", "04000000"},
		{"second master", "{a}\n04000000 00000000 00000001\n{b}"},
		{"unterminated name", "[abc\n04000000"},
		{"unterminated master", "{abc"},
		{"short opcode", "[a]\n0400000"},
		{"bad hex", "[a]\n0400000Z"},
		{"unexpected character", "[a]\n; comment"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCheats(tc.text, true)
			require.ErrorIs(t, err, cheaterrors.ErrInvalid)
		})
	}
}

func TestParseCheatsOpcodeCapacity(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("[big]\n")
	for i := 0; i < types.MaxCheatOpcodes+1; i++ {
		sb.WriteString("20000000 ")
	}
	_, err := ParseCheats(sb.String(), true)
	require.ErrorIs(t, err, cheaterrors.ErrInvalid)
}

func TestParseCheatsTooManyEntries(t *testing.T) {
	var sb strings.Builder
	for i := 0; i <= types.MaxCheatCount; i++ {
		sb.WriteString("[c]\n40000000 00000000 00000001\n")
	}
	_, err := ParseCheats(sb.String(), true)
	require.ErrorIs(t, err, cheaterrors.ErrInvalid)
}

func TestParseCheatsDropsInvalidProgram(t *testing.T) {
	text := "[broken]\n20000000\n[fine]\n40000000 00000000 00000001\n"
	table, err := ParseCheats(text, true)
	require.NoError(t, err)
	assert.Equal(t, 0, table[1].Definition.NumOpcodes())
	assert.Equal(t, "fine", table[2].Definition.ReadableName)
}

func TestParseCheatsClampsName(t *testing.T) {
	long := strings.Repeat("n", types.MaxReadableNameLength+16)
	table, err := ParseCheats("["+long+"]\n40000000 00000000 00000001", true)
	require.NoError(t, err)
	assert.Len(t, table[1].Definition.ReadableName, types.MaxReadableNameLength)
}

func TestCheatToggles(t *testing.T) {
	table, err := ParseCheats(sampleCheats, true)
	require.NoError(t, err)

	toggles := "[Infinite Health]\nfalse\n\n[99 Coins] OFF\n[Unknown]\ntrue\n[Max Speed]\nmaybe\n[Master Code]\n0\n"
	require.NoError(t, ParseCheatToggles(table, toggles))
	assert.False(t, table[1].Enabled)
	assert.False(t, table[2].Enabled)
	assert.True(t, table[3].Enabled)
	assert.True(t, table[0].Enabled)

	out := SerializeCheatToggles(table)
	assert.Equal(t, "[Infinite Health]\nfalse\n\n[99 Coins]\nfalse\n\n[Max Speed]\ntrue\n\n", out)

	fresh, err := ParseCheats(sampleCheats, true)
	require.NoError(t, err)
	require.NoError(t, ParseCheatToggles(fresh, out))
	for i := range table {
		assert.Equal(t, table[i].Enabled, fresh[i].Enabled, "entry %d", i)
	}

	// 1/on are accepted case-insensitively
	require.NoError(t, ParseCheatToggles(fresh, "[Infinite Health] On [99 Coins] 1"))
	assert.True(t, fresh[1].Enabled)
	assert.True(t, fresh[2].Enabled)
}

func TestCheatTogglesErrors(t *testing.T) {
	table := NewCheatTable()
	for _, text := range []string{"Infinite Health\ntrue", "[open", "[a]", "[a]\n  ", "[a] truetruetrue"} {
		require.ErrorIs(t, ParseCheatToggles(table, text), cheaterrors.ErrInvalid, text)
	}
}
