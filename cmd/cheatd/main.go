// cheatd - cheat VM daemon
// This binary attaches to the running application process, executes its
// enabled cheats every tick, and serves the manager over RPC:
// 1. Waits for application launches on the selected host backend
// 2. Loads cheats and toggles for the launched program build
// 3. Exposes net/rpc on --rpc-port and attach events on ws://:--ws-port/ws
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/colorfulnotion/dmnt/dmnt"
	"github.com/colorfulnotion/dmnt/host"
	"github.com/colorfulnotion/dmnt/host/procfs"
	"github.com/colorfulnotion/dmnt/host/sim"
	log "github.com/colorfulnotion/dmnt/log"
	"github.com/colorfulnotion/dmnt/rpc"
	"github.com/colorfulnotion/dmnt/storage"
	"github.com/colorfulnotion/dmnt/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

const levelDBDir = "cheatdb"

func main() {
	var rootCmd = &cobra.Command{
		Use:   "cheatd",
		Short: "Cheat VM daemon and tools",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	cfg := types.DefaultCommandConfig()
	var configPath string

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Attach to launched applications and serve the cheat manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfigFile(cmd.Flags(), &cfg, configPath); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.LogJson {
				log.InitJSONLogger(cfg.LogLevel)
			} else {
				log.InitLogger(cfg.LogLevel)
			}
			log.EnableModules(cfg.DebugModules)
			log.Info(log.ProcessMonitoring, "cheatd starting", "version", Version, "commit", Commit, "built", BuildTime)
			log.Debug(log.ProcessMonitoring, "config", "cfg", cfg.String())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	flags := runCmd.Flags()
	flags.StringVar(&configPath, "config", "", "JSON config file; explicit flags override it")
	flags.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "cheat data directory")
	flags.StringVar(&cfg.Store, "store", cfg.Store, "cheat store: fs or leveldb")
	flags.StringVar(&cfg.Host, "host", cfg.Host, "host backend: sim or procfs")
	flags.StringVar(&cfg.ProcName, "procname", cfg.ProcName, "process name watched by the procfs host")
	flags.Uint64Var(&cfg.ProgramID, "program-id", cfg.ProgramID, "program id reported for attached processes")
	flags.IntVar(&cfg.RPCPort, "rpc-port", cfg.RPCPort, "net/rpc port")
	flags.IntVar(&cfg.WSPort, "ws-port", cfg.WSPort, "websocket event port")
	flags.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "cheat VM executions per second")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: trace, debug, info, warn, error")
	flags.BoolVar(&cfg.LogJson, "logjson", cfg.LogJson, "emit JSON log records")
	flags.StringVar(&cfg.DebugModules, "debug", cfg.DebugModules, "comma separated log modules to enable")
	flags.BoolVar(&cfg.EnableCheatsByDefault, "enable-cheats", cfg.EnableCheatsByDefault, "enable parsed cheats by default")
	flags.BoolVar(&cfg.AlwaysSaveCheatToggles, "always-save-toggles", cfg.AlwaysSaveCheatToggles, "save toggles on detach even when unchanged")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(newDisasmCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newTogglesCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cheatd %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyConfigFile overlays path onto cfg, then re-applies every flag given
// on the command line.
func applyConfigFile(fs *pflag.FlagSet, cfg *types.CommandConfig, path string) error {
	if path == "" {
		return nil
	}
	explicit := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})
	if err := cfg.LoadCommandConfig(path); err != nil {
		return err
	}
	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
	}
	return nil
}

func openStore(cfg types.CommandConfig) (storage.CheatStore, func(), error) {
	switch cfg.Store {
	case types.StoreLevelDB:
		ps, err := storage.NewPersistenceStore(filepath.Join(cfg.DataDir, levelDBDir))
		if err != nil {
			return nil, nil, err
		}
		return storage.NewLevelCheatStore(ps), func() { ps.Close() }, nil
	default:
		return storage.NewFileStore(cfg.DataDir), func() {}, nil
	}
}

func openHost(cfg types.CommandConfig) host.Host {
	if cfg.Host == types.HostProcfs {
		return procfs.New(cfg.ProcName, cfg.ProgramID)
	}
	h := sim.New()
	p := h.Launch(sim.ProcessConfig{
		ProgramID: cfg.ProgramID,
		MainBase:  0x0800_0000,
		MainSize:  0x10_0000,
		HeapBase:  0x4000_0000,
		HeapSize:  0x10_0000,
	})
	log.Info(log.HostMonitoring, "simulated application launched", "pid", p.PID(), "program", fmt.Sprintf("%016x", cfg.ProgramID))
	return h
}

func run(ctx context.Context, cfg types.CommandConfig) error {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	cpm := dmnt.NewCheatProcessManager(openHost(cfg), store, cfg)
	server, err := rpc.NewServer(cpm)
	if err != nil {
		return err
	}
	hub := rpc.NewHub(ctx, cpm)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cpm.Start(gctx) })
	g.Go(func() error { return server.ListenAndServe(gctx, cfg.RPCPort) })
	g.Go(func() error { return hub.ListenAndServe(gctx, cfg.WSPort) })

	err = g.Wait()
	log.Info(log.ProcessMonitoring, "cheatd stopped", "err", err)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
