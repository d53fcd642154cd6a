package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/lmittmann/tint"

	"slurp/internal/batch"
	"slurp/internal/util"
)

const previewLimit = 0x100

func main() {
	os.Exit(run())
}

func run() int {
	flags := flashflags.New("slurp")
	flags.SetDescription("read a batch of files in parallel through io_uring - flags must precede file paths")
	flags.Bool("best-effort", false, "skip files that fail to open instead of aborting the batch")
	flags.Duration("drain-timeout", 0, "max wait per completion, 0 waits forever")
	flags.Bool("dump", false, "hexdump the head of every file read")
	flags.Bool("verbose", false, "debug logging")

	flagArgs, paths := splitArgs(os.Args[1:])
	if err := flags.Parse(flagArgs); err != nil {
		fmt.Fprintln(os.Stderr, "args:", err)
		return 1
	}

	level := slog.LevelInfo
	if flags.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})))

	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file> [files...] (flags must precede paths)\n", os.Args[0])
		flags.PrintHelp()
		return 1
	}

	cfg := batch.Config{
		Policy:       batch.FailFast,
		DrainTimeout: flags.GetDuration("drain-timeout"),
	}
	if flags.GetBool("best-effort") {
		cfg.Policy = batch.BestEffort
	}

	table, err := batch.NewRunner(cfg).Run(paths)
	defer table.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fmt.Printf("submitted %d reads\n", table.Submitted)
	for i := range table.Len() {
		out := table.Outcome(i)
		if out.Err != nil {
			fmt.Fprintln(os.Stderr, out.Err)
			continue
		}
		fmt.Printf("read %d bytes from file %d\n", out.Bytes, i)
		slog.Debug("read", "path", table.Request(i).Path, "xxh64", fmt.Sprintf("%016x", table.Digest(i)))
		if flags.GetBool("dump") {
			fmt.Print(util.Preview(table.Request(i).Buf[:out.Bytes], previewLimit))
		}
	}

	if table.Failed() > 0 {
		return 1
	}
	return 0
}

// Flags come first, paths after: everything up to the first argument that
// doesn't start with '-'. Value-carrying flags use --name=value form so the
// split doesn't need to know each flag's arity.
func splitArgs(args []string) (flagArgs, paths []string) {
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			return args[:i], args[i:]
		}
	}
	return args, nil
}
