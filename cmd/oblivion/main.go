// Command oblivion is the OBLIVION storage engine's CLI: one-shot
// put/get/del subcommands for scripting, plus a "shell" subcommand that
// drops into the interactive REPL. It replaces the teacher's flag.FlagSet
// dispatch (cmd/main.go) with github.com/spf13/cobra, matching the
// ambient CLI stack the rest of this repo adopts from the example pack.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/config"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/engine"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/internal/repl"
)

var (
	dataDir    string
	memMaxSize int
	syncWrites bool
)

func main() {
	root := &cobra.Command{
		Use:           "oblivion",
		Short:         "OBLIVION embedded LSM-tree key-value store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "dir", "./data", "data directory (WAL + SSTables live here)")
	root.PersistentFlags().IntVar(&memMaxSize, "mem-max-size", config.DefaultMemtableMaxSize, "MemTable flush threshold in bytes")
	root.PersistentFlags().BoolVar(&syncWrites, "sync", true, "fsync the WAL after every write")

	root.AddCommand(putCmd(), getCmd(), delCmd(), shellCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openEngine() (*engine.Engine, error) {
	cfg := config.New(dataDir).WithMemtableMaxSize(memMaxSize)
	cfg.SyncWrites = syncWrites
	return engine.Open(cfg)
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "write a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()
			if err := eng.Put([]byte(args[0]), []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "read a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()
			v, ok, err := eng.Get([]byte(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("(not found)")
				os.Exit(1)
			}
			fmt.Println(string(v))
			return nil
		},
	}
}

func delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>",
		Short: "delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()
			if err := eng.Delete([]byte(args[0])); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "interactive REPL (set/get/del/ttl/scan/info/exit)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()
			return repl.Run(eng)
		},
	}
}
