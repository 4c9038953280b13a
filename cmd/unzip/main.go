// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command unzip lists, prints and extracts ZIP archives.
//
// Usage:
//
//	unzip [-l] [-x dir] [-p name] [-s] [-j N] [-mem] [-cp437] [-v] archive.zip
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/encoding/charmap"

	"github.com/lemon4ksan/unzip"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	list          bool
	extractDir    string
	printName     string
	caseSensitive bool
	workers       int
	inMemory      bool
	cp437         bool
	verbose       bool
	archive       string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var o options

	fset := flag.NewFlagSet("unzip", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.BoolVar(&o.list, "l", false, "list entries (default when no other action is given)")
	fset.StringVar(&o.extractDir, "x", "", "extract all entries into `dir`")
	fset.StringVar(&o.printName, "p", "", "write the content of entry `name` to stdout")
	fset.BoolVar(&o.caseSensitive, "s", false, "match -p names case-sensitively")
	fset.IntVar(&o.workers, "j", runtime.NumCPU(), "number of extraction workers")
	fset.BoolVar(&o.inMemory, "mem", false, "load the archive into memory")
	fset.BoolVar(&o.cp437, "cp437", false, "decode names without the UTF-8 flag as code page 437")
	fset.BoolVar(&o.verbose, "v", false, "debug logging and a summary")
	fset.Usage = func() {
		fmt.Fprintln(stderr, "usage: unzip [-l] [-x dir] [-p name] [-s] [-j N] [-mem] [-cp437] [-v] archive.zip")
		fset.PrintDefaults()
	}

	if err := fset.Parse(args); err != nil {
		return o, err
	}
	if fset.NArg() != 1 {
		fset.Usage()
		return o, errors.New("expected exactly one archive")
	}
	o.archive = fset.Arg(0)

	if !o.list && o.extractDir == "" && o.printName == "" {
		o.list = true
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opts := []unzip.Option{unzip.WithLogger(logger)}
	if o.inMemory {
		opts = append(opts, unzip.WithInMemory())
	}
	if o.cp437 {
		opts = append(opts, unzip.WithFilenameEncoding(charmap.CodePage437))
	}

	if err := execute(ctx, o, opts, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "unzip: %v\n", err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, o options, opts []unzip.Option, stdout, stderr io.Writer) error {
	a, err := unzip.Open(o.archive, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	if o.list {
		if err := a.List(stdout); err != nil {
			return err
		}
	}

	if o.printName != "" {
		f, err := a.FileByName(o.printName, o.caseSensitive)
		if err != nil {
			return err
		}
		if _, err := stdout.Write(f.Data); err != nil {
			return err
		}
	}

	if o.verbose {
		if err := summarize(a, stderr); err != nil {
			return err
		}
	}

	if o.extractDir != "" {
		// Workers open their own handles.
		if err := a.Close(); err != nil {
			return err
		}
		return unzip.ExtractAll(ctx, o.archive, o.extractDir, o.workers, opts...)
	}
	return nil
}

// summarize prints entry totals with human-readable sizes.
func summarize(a *unzip.Archive, w io.Writer) error {
	var files, dirs int
	var packed, unpacked uint64

	for e, err := range a.Entries() {
		if err != nil {
			return err
		}
		if e.IsDir() {
			dirs++
			continue
		}
		files++
		packed += e.CompressedSize
		unpacked += e.UncompressedSize
	}

	fmt.Fprintf(w, "%s files, %s directories, %s packed, %s unpacked\n",
		humanize.Comma(int64(files)), humanize.Comma(int64(dirs)),
		humanize.Bytes(packed), humanize.Bytes(unpacked))
	if c := a.Comment(); c != "" {
		fmt.Fprintf(w, "comment: %s\n", c)
	}
	return nil
}
