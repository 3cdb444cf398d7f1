// lructl is a CLI for inspecting and maintaining lrustorage files.
//
// Usage:
//
//	lructl [opts] <file> [command [args...]]       Open an existing file
//	lructl new [opts] <file> [command [args...]]   Create a new file
//
// Without a command an interactive prompt is started; with one, the command
// runs once and lructl exits.
//
// Options:
//
//	-c, --config       Config file (default: $XDG_CONFIG_HOME/lructl/config.json)
//	-w, --writeback    none or sync
//	-r, --read-only    Open without write access
//	-v, --verbose      Log storage debug events to stderr
//
// Options for 'new':
//
//	-s, --value-size   Value size in bytes
//	-n, --size         Maximum number of entries
//	    --seed         Fingerprint seed
//	-f, --force        Replace an existing file
//
// Defaults for value size, size, seed and writeback come from the config file.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/pop-os/mozc/pkg/fs"
	"github.com/pop-os/mozc/pkg/lrustorage"
)

func main() {
	zerolog.CallerMarshalFunc = shortCaller

	os.Exit(run(os.Stdin, os.Stdout, os.Stderr, os.Args, environ()))
}

func environ() map[string]string {
	env := make(map[string]string)

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	return env
}

type cliFlags struct {
	configPath string
	writeback  string
	readOnly   bool
	verbose    bool

	valueSize int
	size      int
	seed      uint32
	force     bool
}

// run is the entry point. Returns the exit code.
func run(_ io.Reader, out, errOut io.Writer, args []string, env map[string]string) int {
	if len(args) < 2 {
		printUsage(errOut)

		return 2
	}

	isNew := args[1] == "new"

	cmdArgs := args[1:]
	if isNew {
		cmdArgs = args[2:]
	}

	flags, fset := newFlagSet(isNew, errOut)

	err := fset.Parse(cmdArgs)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}

		fmt.Fprintln(errOut, "error:", err)

		return 2
	}

	if fset.NArg() < 1 {
		fset.Usage()

		return 2
	}

	err = execute(out, errOut, env, isNew, flags, fset)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	return 0
}

func newFlagSet(isNew bool, errOut io.Writer) (*cliFlags, *flag.FlagSet) {
	var flags cliFlags

	name := "lructl"
	if isNew {
		name = "lructl new"
	}

	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	fset.SetOutput(errOut)
	fset.SetInterspersed(false)

	fset.StringVarP(&flags.configPath, "config", "c", "", "config file")
	fset.StringVarP(&flags.writeback, "writeback", "w", "", "writeback mode: none or sync")
	fset.BoolVarP(&flags.verbose, "verbose", "v", false, "log storage debug events")

	if isNew {
		fset.IntVarP(&flags.valueSize, "value-size", "s", 0, "value size in bytes")
		fset.IntVarP(&flags.size, "size", "n", 0, "maximum number of entries")
		fset.Uint32Var(&flags.seed, "seed", 0, "fingerprint seed")
		fset.BoolVarP(&flags.force, "force", "f", false, "replace an existing file")
	} else {
		fset.BoolVarP(&flags.readOnly, "read-only", "r", false, "open without write access")
	}

	fset.Usage = func() {
		fmt.Fprintf(errOut, "Usage: %s [options] <file> [command [args...]]\n\nOptions:\n", name)
		fset.PrintDefaults()
	}

	return &flags, fset
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  lructl [opts] <file> [command]       Open an existing storage file")
	fmt.Fprintln(w, "  lructl new [opts] <file> [command]   Create a new storage file")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'lructl --help' or 'lructl new --help' for options.")
}

func execute(out, errOut io.Writer, env map[string]string, isNew bool, flags *cliFlags, fset *flag.FlagSet) error {
	fsys := fs.NewReal()

	cfg, err := LoadConfig(fsys, flags.configPath, env)
	if err != nil {
		return err
	}

	if fset.Changed("writeback") {
		cfg.Writeback = flags.writeback
	}

	if fset.Changed("value-size") {
		cfg.ValueSize = flags.valueSize
	}

	if fset.Changed("size") {
		cfg.Size = flags.size
	}

	if fset.Changed("seed") {
		cfg.Seed = flags.seed
	}

	writeback, err := parseWriteback(cfg.Writeback)
	if err != nil {
		return err
	}

	logger := newLogger(errOut, flags.verbose)
	if cfg.Source != "" {
		logger.Debug().Str("config", cfg.Source).Msg("loaded config")
	}

	path := fset.Arg(0)

	opts := lrustorage.Options{
		Path:      path,
		ValueSize: cfg.ValueSize,
		Size:      cfg.Size,
		Seed:      cfg.Seed,
		ReadOnly:  flags.readOnly,
		Writeback: writeback,
		FS:        fsys,
		Logger:    &logger,
	}

	if isNew {
		err = createFile(fsys, opts, flags.force)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "created %s (value_size=%d, size=%d, seed=%d)\n", path, opts.ValueSize, opts.Size, opts.Seed)
	}

	store, err := lrustorage.Open(opts)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	defer func() { _ = store.Close() }()

	historyFile := cfg.HistoryFile
	if historyFile == "" {
		historyFile = defaultHistoryFile(env)
	}

	repl := &REPL{
		store:       store,
		fsys:        fsys,
		out:         out,
		log:         logger,
		historyFile: historyFile,
	}

	if fset.NArg() > 1 {
		_, err = repl.Exec(fset.Args()[1:])
		if err != nil {
			return err
		}

		return store.Close()
	}

	err = repl.Run()
	if err != nil {
		return err
	}

	return store.Close()
}

func createFile(fsys fs.FS, opts lrustorage.Options, force bool) error {
	exists, err := fsys.Exists(opts.Path)
	if err != nil {
		return fmt.Errorf("checking %s: %w", opts.Path, err)
	}

	if exists && !force {
		return fmt.Errorf("%s already exists (use --force to replace it, or 'lructl %s' to open it)", opts.Path, opts.Path)
	}

	return lrustorage.CreateStorageFile(opts)
}
