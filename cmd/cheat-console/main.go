package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/dmnt/rpc"
	"github.com/dop251/goja"
	"github.com/spf13/cobra"
)

// Usage: cheat-console --rpc localhost:21100

func main() {
	var endpoint string
	rootCmd := &cobra.Command{
		Use:   "cheat-console",
		Short: "JavaScript console for a running cheatd",
		RunE: func(cmd *cobra.Command, args []string) error {
			return console(endpoint)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&endpoint, "rpc", "localhost:21100", "cheatd RPC endpoint")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRuntime(c *rpc.Client) (*goja.Runtime, error) {
	vm := goja.New()
	if err := bindClient(vm, c); err != nil {
		return nil, err
	}
	err := vm.Set("print", func(args ...goja.Value) {
		for _, arg := range args {
			fmt.Println(render(arg))
		}
	})
	return vm, err
}

// render prints Go structs returned by the client as JSON.
func render(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	switch v.Export().(type) {
	case string, bool, int64, float64, nil:
		return v.String()
	}
	data, err := json.MarshalIndent(v.Export(), "", "  ")
	if err != nil {
		return v.String()
	}
	return string(data)
}

func console(endpoint string) error {
	client, err := rpc.Dial(endpoint)
	if err != nil {
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}
	defer client.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "dmnt> ",
		HistoryFile: filepath.Join(os.TempDir(), "dmnt_console_history.txt"),
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	vm, err := newRuntime(client)
	if err != nil {
		return err
	}

	if v, err := vm.RunString(`dmnt.Functions()`); err == nil {
		fmt.Println(render(v))
	} else {
		fmt.Println("❌ startup:", err)
	}
	fmt.Println("✅ dmnt console started, e.g. dmnt.GetCheats(0, 16). Type 'exit' to quit.")

	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit":
			return nil
		}
		value, err := vm.RunString(line)
		if err != nil {
			fmt.Println("❌", err)
			continue
		}
		fmt.Println(render(value))
	}
}
