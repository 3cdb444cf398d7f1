package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"

	"github.com/pop-os/mozc/pkg/fs"
	"github.com/pop-os/mozc/pkg/lrustorage"
)

var errUsage = errors.New("usage")

// REPL runs commands against one open storage file.
type REPL struct {
	store       *lrustorage.Storage
	fsys        fs.FS
	out         io.Writer
	log         zerolog.Logger
	historyFile string
	liner       *liner.State
}

var replCommands = []string{
	"get", "put", "touch", "del", "delete",
	"ls", "list", "info", "clear", "prune",
	"merge", "export", "import",
	"help", "exit", "quit", "q",
}

// Run starts the interactive loop. It returns when the user quits or input
// ends.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(completeCommand)

	if r.historyFile != "" {
		if f, err := r.fsys.Open(r.historyFile); err == nil {
			_, _ = r.liner.ReadHistory(f)
			_ = f.Close()
		}
	}

	defer r.saveHistory()

	fmt.Fprintf(r.out, "lructl - %s (value_size=%d, size=%d, used=%d)\n",
		r.store.Filename(), r.store.ValueSize(), r.store.Size(), r.store.UsedSize())
	fmt.Fprintln(r.out, "Type 'help' for available commands.")
	fmt.Fprintln(r.out)

	for {
		line, err := r.liner.Prompt("lructl> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nBye!")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		quit, err := r.Exec(strings.Fields(line))
		if err != nil {
			fmt.Fprintln(r.out, "error:", err)
		}

		if quit {
			fmt.Fprintln(r.out, "Bye!")

			return nil
		}
	}
}

func (r *REPL) saveHistory() {
	if r.historyFile == "" {
		return
	}

	f, err := r.fsys.OpenFile(r.historyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err == nil {
		_, _ = r.liner.WriteHistory(f)
		_ = f.Close()
	}
}

func completeCommand(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range replCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

// Exec runs one command. quit is true for exit/quit/q.
func (r *REPL) Exec(fields []string) (bool, error) {
	if len(fields) == 0 {
		return false, nil
	}

	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true, nil
	case "help", "?":
		r.printHelp()

		return false, nil
	case "get":
		return false, r.cmdGet(args)
	case "put":
		return false, r.cmdPut(args)
	case "touch":
		return false, r.cmdTouch(args)
	case "del", "delete":
		return false, r.cmdDelete(args)
	case "ls", "list":
		return false, r.cmdList(args)
	case "info":
		return false, r.cmdInfo()
	case "clear":
		return false, r.cmdClear()
	case "prune":
		return false, r.cmdPrune(args)
	case "merge":
		return false, r.cmdMerge(args)
	case "export":
		return false, r.cmdExport(args)
	case "import":
		return false, r.cmdImport(args)
	default:
		return false, fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
	}
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  get <key>              Show the value and last access time")
	fmt.Fprintln(r.out, "  put <key> <value>      Insert or update an entry")
	fmt.Fprintln(r.out, "  touch <key>            Mark an entry most recently used")
	fmt.Fprintln(r.out, "  del <key>              Delete an entry")
	fmt.Fprintln(r.out, "  ls [limit]             List values, most recent first")
	fmt.Fprintln(r.out, "  info                   Show storage info")
	fmt.Fprintln(r.out, "  clear                  Remove every entry")
	fmt.Fprintln(r.out, "  prune [days]           Remove entries untouched for days (default 62)")
	fmt.Fprintln(r.out, "  merge <file>           Merge another storage file")
	fmt.Fprintln(r.out, "  export <file.zst>      Write a compressed snapshot")
	fmt.Fprintln(r.out, "  import <file.zst>      Merge a compressed snapshot")
	fmt.Fprintln(r.out, "  help                   Show this help")
	fmt.Fprintln(r.out, "  exit / quit / q        Exit")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Values: plain text or 0x-prefixed hex, zero-padded to the value size.")
}

func (r *REPL) cmdGet(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: get <key>", errUsage)
	}

	entry, found, err := r.store.Lookup(args[0])
	if err != nil {
		return err
	}

	if !found {
		fmt.Fprintln(r.out, "(not found)")

		return nil
	}

	fmt.Fprintf(r.out, "value:       %s\n", formatValue(entry.Value))
	fmt.Fprintf(r.out, "last access: %s\n", entry.Time().UTC().Format(time.RFC3339))

	return nil
}

func (r *REPL) cmdPut(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: put <key> <value>", errUsage)
	}

	value, err := parseValue(args[1], r.store.ValueSize())
	if err != nil {
		return err
	}

	err = r.store.Insert(args[0], value)
	if err != nil {
		return err
	}

	fmt.Fprintln(r.out, "OK")

	return nil
}

func (r *REPL) cmdTouch(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: touch <key>", errUsage)
	}

	touched, err := r.store.Touch(args[0])
	if err != nil {
		return err
	}

	printFound(r.out, touched, "touched")

	return nil
}

func (r *REPL) cmdDelete(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: del <key>", errUsage)
	}

	deleted, err := r.store.Delete(args[0])
	if err != nil {
		return err
	}

	printFound(r.out, deleted, "deleted")

	return nil
}

func (r *REPL) cmdList(args []string) error {
	limit := -1

	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("%w: ls [limit]", errUsage)
		}

		limit = n
	}

	values, err := r.store.Values()
	if err != nil {
		return err
	}

	shown := 0

	for v := range values {
		if shown == limit {
			break
		}

		fmt.Fprintf(r.out, "%5d  %s\n", shown, formatValue(v))
		shown++
	}

	fmt.Fprintf(r.out, "(%d of %d entries)\n", shown, r.store.UsedSize())

	return nil
}

func (r *REPL) cmdInfo() error {
	info, err := r.fsys.Stat(r.store.Filename())
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	fmt.Fprintf(r.out, "path:       %s\n", r.store.Filename())
	fmt.Fprintf(r.out, "value size: %d bytes\n", r.store.ValueSize())
	fmt.Fprintf(r.out, "item size:  %d bytes\n", r.store.ItemSize())
	fmt.Fprintf(r.out, "size:       %d entries\n", r.store.Size())
	fmt.Fprintf(r.out, "used:       %d entries\n", r.store.UsedSize())
	fmt.Fprintf(r.out, "seed:       %d\n", r.store.Seed())
	fmt.Fprintf(r.out, "file size:  %d bytes\n", info.Size())

	return nil
}

func (r *REPL) cmdClear() error {
	err := r.store.Clear()
	if err != nil {
		return err
	}

	fmt.Fprintln(r.out, "OK")

	return nil
}

func (r *REPL) cmdPrune(args []string) error {
	var (
		removed int
		err     error
	)

	switch len(args) {
	case 0:
		removed, err = r.store.DeleteElementsUntouchedFor62Days()
	case 1:
		days, convErr := strconv.Atoi(args[0])
		if convErr != nil || days < 0 {
			return fmt.Errorf("%w: prune [days]", errUsage)
		}

		removed, err = r.store.DeleteElementsUntouchedForDays(days)
	default:
		return fmt.Errorf("%w: prune [days]", errUsage)
	}

	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "removed %d entries\n", removed)

	return nil
}

func (r *REPL) cmdMerge(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: merge <file>", errUsage)
	}

	before := r.store.UsedSize()

	err := r.store.MergeFile(args[0])
	if err != nil {
		return err
	}

	r.log.Info().Str("source", args[0]).Int("before", before).Int("after", r.store.UsedSize()).Msg("merged")
	fmt.Fprintf(r.out, "merged, %d entries\n", r.store.UsedSize())

	return nil
}

func (r *REPL) cmdExport(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: export <file.zst>", errUsage)
	}

	n, err := exportSnapshot(r.fsys, r.store, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "exported %d entries to %s\n", n, args[0])

	return nil
}

func (r *REPL) cmdImport(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: import <file.zst>", errUsage)
	}

	n, err := importSnapshot(r.fsys, r.store, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "imported %d entries, %d in storage\n", n, r.store.UsedSize())

	return nil
}

func printFound(out io.Writer, ok bool, verb string) {
	if ok {
		fmt.Fprintln(out, verb)
	} else {
		fmt.Fprintln(out, "(not found)")
	}
}

// parseValue converts a command-line value to exactly size bytes. Text and
// 0x-prefixed hex are accepted; shorter input is zero-padded.
func parseValue(s string, size int) ([]byte, error) {
	raw := []byte(s)

	if after, ok := strings.CutPrefix(s, "0x"); ok {
		decoded, err := hex.DecodeString(after)
		if err != nil {
			return nil, fmt.Errorf("invalid hex value: %w", err)
		}

		raw = decoded
	}

	if len(raw) > size {
		return nil, fmt.Errorf("value is %d bytes, value size is %d", len(raw), size)
	}

	value := make([]byte, size)
	copy(value, raw)

	return value, nil
}

// formatValue renders a value as quoted text when it is printable UTF-8
// (ignoring zero padding), otherwise as hex.
func formatValue(v []byte) string {
	trimmed := strings.TrimRight(string(v), "\x00")

	if utf8.ValidString(trimmed) && strconv.CanBackquote(trimmed) {
		return strconv.Quote(trimmed)
	}

	return "0x" + hex.EncodeToString(v)
}

// defaultHistoryFile returns ~/.lructl_history, or empty if there is no home.
func defaultHistoryFile(env map[string]string) string {
	home := env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".lructl_history")
}
