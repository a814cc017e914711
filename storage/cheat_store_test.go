package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/dmnt/cheaterrors"
)

const testProgramID = 0x0100000000010000

var testBuildID = []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x11, 0x22, 0x33, 0xFF, 0xFF}

func exerciseCheatStore(t *testing.T, s CheatStore, put func(text string) error) {
	t.Helper()
	_, err := s.LoadCheats(testProgramID, testBuildID)
	require.ErrorIs(t, err, cheaterrors.ErrStoreNotExists)

	require.NoError(t, put("[Infinite HP]\n04000000 00123456 00000064\n"))
	text, err := s.LoadCheats(testProgramID, testBuildID)
	require.NoError(t, err)
	assert.Contains(t, text, "[Infinite HP]")

	_, found, err := s.LoadToggles(testProgramID)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SaveToggles(testProgramID, "[Infinite HP]\nfalse\n\n"))
	toggles, found, err := s.LoadToggles(testProgramID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "[Infinite HP]\nfalse\n\n", toggles)
}

func TestFileStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)
	exerciseCheatStore(t, s, func(text string) error {
		return s.PutCheats(testProgramID, testBuildID, text)
	})

	want := filepath.Join(root, "contents", "0100000000010000", "cheats", "DEADBEEF00112233.txt")
	assert.Equal(t, want, s.CheatsPath(testProgramID, testBuildID))
	_, err := os.Stat(filepath.Join(root, "contents", "0100000000010000", "cheats", "toggles.txt"))
	assert.NoError(t, err)
}

func TestLevelCheatStoreRoundTrip(t *testing.T) {
	ps, err := NewMemoryPersistenceStore()
	require.NoError(t, err)
	defer ps.Close()

	s := NewLevelCheatStore(ps)
	exerciseCheatStore(t, s, func(text string) error {
		return s.PutCheats(testProgramID, testBuildID, text)
	})

	require.NoError(t, s.PutCheats(0x01004AD014BF0000, testBuildID, "[x]\n"))
	keys, err := s.ListCheats()
	require.NoError(t, err)
	assert.Equal(t, []CheatKey{
		{ProgramID: "0100000000010000", BuildID: "DEADBEEF00112233"},
		{ProgramID: "01004ad014bf0000", BuildID: "DEADBEEF00112233"},
	}, keys)
}
