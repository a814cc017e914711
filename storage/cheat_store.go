package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/common"
	log "github.com/colorfulnotion/dmnt/log"
)

// CheatStore supplies cheat text for a program build and persists the
// per-program toggle file.
type CheatStore interface {
	// LoadCheats returns cheaterrors.ErrStoreNotExists when no cheats exist
	// for the build.
	LoadCheats(programID uint64, buildID []byte) (string, error)
	// LoadToggles reports found=false when no toggle file was saved yet.
	LoadToggles(programID uint64) (text string, found bool, err error)
	SaveToggles(programID uint64, text string) error
}

const togglesFile = "toggles.txt"

// FileStore reads <root>/contents/<program id>/cheats/<build id>.txt and keeps
// toggles.txt next to it.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) cheatsDir(programID uint64) string {
	return filepath.Join(s.root, "contents", common.FormatProgramID(programID), "cheats")
}

// CheatsPath is where LoadCheats looks for the build's cheat file.
func (s *FileStore) CheatsPath(programID uint64, buildID []byte) string {
	return filepath.Join(s.cheatsDir(programID), common.FormatBuildID(buildID)+".txt")
}

func (s *FileStore) LoadCheats(programID uint64, buildID []byte) (string, error) {
	path := s.CheatsPath(programID, buildID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", path, cheaterrors.ErrStoreNotExists)
	}
	if err != nil {
		return "", fmt.Errorf("LoadCheats %s: %w", path, err)
	}
	log.Debug(log.StoreMonitoring, "loaded cheats", "path", path, "bytes", len(data))
	return string(data), nil
}

func (s *FileStore) LoadToggles(programID uint64) (string, bool, error) {
	path := filepath.Join(s.cheatsDir(programID), togglesFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("LoadToggles %s: %w", path, err)
	}
	return string(data), true, nil
}

func (s *FileStore) SaveToggles(programID uint64, text string) error {
	dir := s.cheatsDir(programID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("SaveToggles: %w", err)
	}
	path := filepath.Join(dir, togglesFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return fmt.Errorf("SaveToggles %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("SaveToggles %s: %w", path, err)
	}
	log.Debug(log.StoreMonitoring, "saved toggles", "path", path)
	return nil
}

// PutCheats installs a cheat file for a build.
func (s *FileStore) PutCheats(programID uint64, buildID []byte, text string) error {
	path := s.CheatsPath(programID, buildID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

const (
	cheatsPrefix  = "cheats/"
	togglesPrefix = "toggles/"
)

// LevelCheatStore keeps cheat and toggle text in a PersistenceStore under
// "cheats/<program>/<build>" and "toggles/<program>".
type LevelCheatStore struct {
	ps *PersistenceStore
}

func NewLevelCheatStore(ps *PersistenceStore) *LevelCheatStore {
	return &LevelCheatStore{ps: ps}
}

func cheatsKey(programID uint64, buildID []byte) []byte {
	return []byte(cheatsPrefix + common.FormatProgramID(programID) + "/" + common.FormatBuildID(buildID))
}

func togglesKey(programID uint64) []byte {
	return []byte(togglesPrefix + common.FormatProgramID(programID))
}

func (s *LevelCheatStore) LoadCheats(programID uint64, buildID []byte) (string, error) {
	key := cheatsKey(programID, buildID)
	data, found, err := s.ps.Get(key)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%s: %w", key, cheaterrors.ErrStoreNotExists)
	}
	return string(data), nil
}

func (s *LevelCheatStore) LoadToggles(programID uint64) (string, bool, error) {
	data, found, err := s.ps.Get(togglesKey(programID))
	if err != nil || !found {
		return "", false, err
	}
	return string(data), true, nil
}

func (s *LevelCheatStore) SaveToggles(programID uint64, text string) error {
	return s.ps.Put(togglesKey(programID), []byte(text))
}

func (s *LevelCheatStore) PutCheats(programID uint64, buildID []byte, text string) error {
	return s.ps.Put(cheatsKey(programID, buildID), []byte(text))
}

// CheatKey names one stored cheat file.
type CheatKey struct {
	ProgramID string
	BuildID   string
}

// ListCheats returns every stored program/build pair in key order.
func (s *LevelCheatStore) ListCheats() ([]CheatKey, error) {
	kvs, err := s.ps.GetWithPrefix([]byte(cheatsPrefix))
	if err != nil {
		return nil, err
	}
	out := make([]CheatKey, 0, len(kvs))
	for _, kv := range kvs {
		program, build, ok := strings.Cut(strings.TrimPrefix(string(kv[0]), cheatsPrefix), "/")
		if !ok {
			continue
		}
		out = append(out, CheatKey{ProgramID: program, BuildID: build})
	}
	return out, nil
}
