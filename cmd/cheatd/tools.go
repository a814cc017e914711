package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/colorfulnotion/dmnt/cheatvm"
	"github.com/colorfulnotion/dmnt/common"
	"github.com/colorfulnotion/dmnt/dmnt"
	"github.com/colorfulnotion/dmnt/storage"
	"github.com/colorfulnotion/dmnt/types"
	"github.com/spf13/cobra"
)

func readCheats(path string) ([]types.CheatEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return dmnt.ParseCheats(string(data), true)
}

func entryTitle(e types.CheatEntry) string {
	if e.IsMaster() {
		return fmt.Sprintf("{%s}", e.Definition.ReadableName)
	}
	return fmt.Sprintf("[%s]", e.Definition.ReadableName)
}

func newDisasmCmd() *cobra.Command {
	var tree bool
	cmd := &cobra.Command{
		Use:   "disasm <cheats.txt>",
		Short: "Disassemble every cheat in a cheat file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := readCheats(args[0])
			if err != nil {
				return err
			}
			for _, e := range table {
				if len(e.Definition.Opcodes) == 0 {
					continue
				}
				if tree {
					t, err := cheatvm.DisassembleTree(entryTitle(e), e.Definition.Opcodes)
					fmt.Print(t.String())
					if err != nil {
						fmt.Println(common.Colorize(common.ColorRed, err.Error()))
					}
					continue
				}
				fmt.Println(common.Colorize(common.ColorCyan, entryTitle(e)))
				lines, err := cheatvm.Disassemble(e.Definition.Opcodes)
				for _, l := range lines {
					fmt.Println(l)
				}
				if err != nil {
					fmt.Println(common.Colorize(common.ColorRed, err.Error()))
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tree, "tree", false, "render conditional blocks as a tree")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <cheats.txt>...",
		Short: "Parse cheat files and check every program",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				table, err := dmnt.ParseCheats(string(data), true)
				if err != nil {
					fmt.Println(common.Colorize(common.ColorRed, fmt.Sprintf("✗ %s: %v", path, err)))
					failed++
					continue
				}
				count := 0
				for _, e := range table {
					if len(e.Definition.Opcodes) > 0 {
						count++
					}
				}
				fmt.Println(common.Colorize(common.ColorGreen, fmt.Sprintf("✓ %s: %d cheats", path, count)))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func newTogglesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggles <cheats.txt> [toggles.txt]",
		Short: "Print the toggle file for a cheat file, optionally applying saved toggles first",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := readCheats(args[0])
			if err != nil {
				return err
			}
			if len(args) == 2 {
				data, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}
				if err := dmnt.ParseCheatToggles(table, string(data)); err != nil {
					return err
				}
			}
			fmt.Print(dmnt.SerializeCheatToggles(table))
			return nil
		},
	}
}

type cheatImporter interface {
	PutCheats(programID uint64, buildID []byte, text string) error
}

func newImportCmd() *cobra.Command {
	var (
		dataDir   string
		store     string
		programID string
		buildID   string
		list      bool
	)
	cmd := &cobra.Command{
		Use:   "import [cheats.txt]",
		Short: "Install a cheat file into the cheat store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dst cheatImporter
			var level *storage.LevelCheatStore
			switch store {
			case types.StoreFS:
				dst = storage.NewFileStore(dataDir)
			case types.StoreLevelDB:
				ps, err := storage.NewPersistenceStore(filepath.Join(dataDir, levelDBDir))
				if err != nil {
					return err
				}
				defer ps.Close()
				level = storage.NewLevelCheatStore(ps)
				dst = level
			default:
				return fmt.Errorf("unknown store %q", store)
			}

			if list {
				if level == nil {
					return fmt.Errorf("--list needs --store %s", types.StoreLevelDB)
				}
				keys, err := level.ListCheats()
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Printf("%s %s\n", k.ProgramID, k.BuildID)
				}
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("missing cheat file")
			}
			pid, err := common.ParseProgramID(programID)
			if err != nil {
				return err
			}
			raw, err := hex.DecodeString(buildID)
			if err != nil || len(raw) > types.BuildIDSize {
				return fmt.Errorf("invalid build id %q", buildID)
			}
			var bid [types.BuildIDSize]byte
			copy(bid[:], raw)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := dmnt.ParseCheats(string(data), true); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err := dst.PutCheats(pid, bid[:], string(data)); err != nil {
				return err
			}
			fmt.Println(common.Colorize(common.ColorGreen, fmt.Sprintf("✓ imported %s for %s/%s", args[0], common.FormatProgramID(pid), common.FormatBuildID(bid[:]))))
			return nil
		},
	}
	d := types.DefaultCommandConfig()
	cmd.Flags().StringVar(&dataDir, "datadir", d.DataDir, "cheat data directory")
	cmd.Flags().StringVar(&store, "store", d.Store, "cheat store: fs or leveldb")
	cmd.Flags().StringVar(&programID, "program-id", "", "program id, 16 hex digits")
	cmd.Flags().StringVar(&buildID, "build-id", "", "main module build id in hex")
	cmd.Flags().BoolVar(&list, "list", false, "list stored cheat files instead of importing")
	return cmd
}
