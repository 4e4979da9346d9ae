// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Fgc compiles a frame graph described in YAML, prints
// its schedule and the commands recorded for one frame
// by the null driver.
//
// Usage:
//
//	fgc [-config file.toml] [-frames n] [-v] graph.yaml
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gviegas/framegraph"
	"github.com/gviegas/framegraph/driver/null"
	"github.com/gviegas/framegraph/graphfile"
)

func main() {
	cfgPath := flag.String("config", "", "TOML configuration file")
	verbose := flag.Bool("v", false, "log debug messages")
	frames := flag.Int("frames", 1, "number of frames to run")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] graph.yaml\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(os.Stdout, *cfgPath, flag.Arg(0), *frames); err != nil {
		for _, e := range framegraph.Errors(err) {
			fmt.Fprintln(os.Stderr, e)
		}
		os.Exit(1)
	}
}

func run(w io.Writer, cfgPath, graphPath string, frames int) error {
	cfg := framegraph.DefaultConfig()
	if cfgPath != "" {
		f, err := os.Open(cfgPath)
		if err != nil {
			return err
		}
		cfg, err = framegraph.LoadConfig(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	f, err := os.Open(graphPath)
	if err != nil {
		return err
	}
	desc, err := graphfile.Load(f)
	f.Close()
	if err != nil {
		return err
	}

	drv := null.New()
	gpu, err := drv.Open()
	if err != nil {
		return err
	}
	defer drv.Close()

	h := framegraph.NewHandler()
	g, err := desc.Build(h, nil)
	if err != nil {
		return err
	}
	defer g.Destroy()
	ctx, err := framegraph.NewContext(gpu, cfg)
	if err != nil {
		return err
	}
	defer ctx.Destroy()
	r, err := g.Compile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(w, r.Schedule())

	for i := range frames {
		if err := r.Record(); err != nil {
			return err
		}
		if cb, ok := r.CmdBuffer().(*null.CmdBuffer); ok {
			fmt.Fprintf(w, "frame %d\n", i)
			for _, s := range cb.Lines() {
				fmt.Fprintln(w, "  "+s)
			}
		}
		if err := r.Run(); err != nil {
			return err
		}
	}
	if err := r.Wait(time.Time{}); err != nil {
		return err
	}
	framegraph.Logger().Info("fgc: done", "graph", g.Name(), "frames", frames, "cache", g.Cache().Stats())
	return nil
}
