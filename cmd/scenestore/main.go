// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// scenestore inspects and builds scene stores and packages.
//
//	scenestore [--log-level LEVEL] COMMAND [flags] ARGS...
//
// Commands:
//
//	ls ID...                  list the entries of packages
//	pack OUT [NAME=]PATH...   bundle files into a new package
//	cat ID                    write an asset's bytes to stdout
//	verify ID...              check entry checksums and embedded stores
//	dump [--prefix P] ID      print a store's specs and fields as YAML
//	gen [flags] OUT           write a synthetic store for benchmarking
//
// IDs may name entries inside packages, like "shot.pkg[city.store]".
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
)

type command struct {
	usage string
	run   func(env *env, args []string) error
}

var commands = map[string]command{
	"ls":     {"ID...", runLs},
	"pack":   {"OUT [NAME=]PATH...", runPack},
	"cat":    {"ID", runCat},
	"verify": {"ID...", runVerify},
	"dump":   {"[--prefix PATH] ID", runDump},
	"gen":    {"[--prims N] [--samples N] [--seed S] [--codec C] OUT", runGen},
}

// env is what commands need from the process.
type env struct {
	stdout io.Writer
	logger *slog.Logger
}

var errUsage = errors.New("usage")

func main() {
	if err := mainImpl(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "scenestore: %v\n", err)
		}
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	}))
}

func printUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintf(w, "usage: scenestore [flags] COMMAND ARGS...\n\nflags:\n%s\ncommands:\n", flags.FlagUsages())
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-7s %s\n", name, commands[name].usage)
	}
}

func mainImpl(args []string, stdout, stderr io.Writer) error {
	flags := pflag.NewFlagSet("scenestore", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)
	logLevel := flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stderr, flags)
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}

	rest := flags.Args()
	if len(rest) == 0 {
		printUsage(stderr, flags)
		return errUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		printUsage(stderr, flags)
		return fmt.Errorf("unknown command %q", rest[0])
	}
	e := &env{
		stdout: stdout,
		logger: newLogger(stderr, level).With("cmd", rest[0]),
	}
	if err := cmd.run(e, rest[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return fmt.Errorf("usage: scenestore %s %s", rest[0], cmd.usage)
		}
		return err
	}
	return nil
}

// split2 is a special case of SplitN that doesn't require allocation.
func split2(s string, sep byte) (l, r string, ok bool) {
	m := strings.IndexByte(s, sep)
	if m < 0 {
		return "", "", false
	}
	return s[:m], s[m+1:], true
}
