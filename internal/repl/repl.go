// Package repl implements the line-oriented shell the original's CLI
// offered ad hoc (put/get/del flag-parsed subcommands); here it's an
// interactive loop over one open Engine, styled on the teacher's
// cmd/main.go subcommand dispatch but read with github.com/chzyer/readline
// instead of re-invoking the process per command.
package repl

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/engine"
)

// Run drives the REPL against eng until "exit"/"quit" or EOF (Ctrl-D).
// Supported commands: set <key> <value...>, setex <key> <ttl_ms> <value...>,
// get <key>, del <key>, ttl <key>, scan [start] [end], info, exit (or quit).
func Run(eng *engine.Engine) error {
	rl, err := readline.New("oblivion> ")
	if err != nil {
		return err
	}
	defer func() { _ = rl.Close() }()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on Ctrl-D, readline.ErrInterrupt on Ctrl-C
			if err == io.EOF || err == readline.ErrInterrupt {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		switch cmd {
		case "exit", "quit":
			return nil
		case "set":
			if len(args) < 2 {
				fmt.Println("usage: set <key> <value...>")
				continue
			}
			value := strings.Join(args[1:], " ")
			if err := eng.Put([]byte(args[0]), []byte(value)); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("ok")
		case "setex":
			if len(args) < 3 {
				fmt.Println("usage: setex <key> <ttl_ms> <value...>")
				continue
			}
			ttlMs, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				fmt.Println("error: ttl_ms must be a non-negative integer")
				continue
			}
			value := strings.Join(args[2:], " ")
			if err := eng.PutWithTTL([]byte(args[0]), []byte(value), ttlMs); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("ok")
		case "get":
			if len(args) != 1 {
				fmt.Println("usage: get <key>")
				continue
			}
			v, ok, err := eng.Get([]byte(args[0]))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if !ok {
				fmt.Println("(not found)")
				continue
			}
			fmt.Println(string(v))
		case "del":
			if len(args) != 1 {
				fmt.Println("usage: del <key>")
				continue
			}
			if err := eng.Delete([]byte(args[0])); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("ok")
		case "ttl":
			if len(args) != 1 {
				fmt.Println("usage: ttl <key>")
				continue
			}
			remaining, found := eng.Ttl([]byte(args[0]))
			if !found {
				fmt.Println("(no ttl)")
				continue
			}
			fmt.Printf("%d ms remaining\n", remaining)
		case "scan":
			var start, end []byte
			if len(args) > 0 {
				start = []byte(args[0])
			}
			if len(args) > 1 {
				end = []byte(args[1])
			}
			entries, err := eng.Scan(start, end)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, e := range entries {
				fmt.Printf("%s = %s\n", e.Key, e.Value)
			}
			fmt.Printf("(%d entries)\n", len(entries))
		case "info":
			info := eng.Info()
			fmt.Printf("instance_id:       %s\n", info.InstanceID)
			fmt.Printf("data_dir:          %s\n", info.DataDir)
			fmt.Printf("memtable_entries:  %d\n", info.MemtableEntries)
			fmt.Printf("memtable_size:     %s\n", info.MemtableSize)
			fmt.Printf("sstable_count:     %d\n", info.SSTableCount)
			fmt.Printf("flush_count:       %d\n", info.FlushCount)
			fmt.Printf("ttl_entries:       %d\n", info.TTLEntries)
		default:
			fmt.Printf("unknown command %q (try: set, setex, get, del, ttl, scan, info, exit)\n", cmd)
		}
	}
}
