package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
)

// ErrProfilerUnknown is returned for unsupported profilers or profiling options.
var ErrProfilerUnknown = errors.New("unknown profiler")

const (
	// OptionPerformance profiles where time is spent.
	OptionPerformance = "pp"
	// OptionMemory profiles memory usage.
	OptionMemory = "mp"
)

// Profiled runs the analysis executable under a profiler.
type Profiled struct {
	Commander  Commander
	Executable string

	// Profiler is "igprof" or "valgrind".
	Profiler string

	// Option is OptionPerformance or OptionMemory.
	Option string

	// OutputDir receives profiler output.
	OutputDir string

	Stdout io.Writer
	Stderr io.Writer
	Logger *log.Logger
}

// ProfilerCommand builds the command line profiling "<executable> <configPath>".
func (p Profiled) ProfilerCommand(configPath string) (Command, error) {
	if p.Option != OptionPerformance && p.Option != OptionMemory {
		return Command{}, fmt.Errorf("%w: option %q (pp or mp)", ErrProfilerUnknown, p.Option)
	}
	dir := p.OutputDir
	if dir == "" {
		dir = "."
	}
	target := []string{p.Executable, configPath}

	switch p.Profiler {
	case "igprof":
		return Command{
			Path: "igprof",
			Args: append(
				[]string{"-d", "-" + p.Option, "-z", "-o", filepath.Join(dir, "igprof."+p.Option+".gz")},
				target...,
			),
			Stdout: p.Stdout, Stderr: p.Stderr,
		}, nil
	case "valgrind":
		tool, out := "callgrind", "callgrind.out"
		if p.Option == OptionMemory {
			tool, out = "massif", "massif.out"
		}
		return Command{
			Path: "valgrind",
			Args: append(
				[]string{
					"--tool=" + tool,
					fmt.Sprintf("--%s-out-file=%s", tool, filepath.Join(dir, out)),
				},
				target...,
			),
			Stdout: p.Stdout, Stderr: p.Stderr,
		}, nil
	}
	return Command{}, fmt.Errorf("%w: %q (igprof or valgrind)", ErrProfilerUnknown, p.Profiler)
}

// Run profiles the executable. A finished profiling run yields 0, whatever the
// profiled program returned.
func (p Profiled) Run(ctx context.Context, configPath string) (int, error) {
	cmd, err := p.ProfilerCommand(configPath)
	if err != nil {
		return 1, err
	}
	p.Logger.Printf("execute %q", cmd.String())
	code, err := p.Commander.Run(ctx, cmd)
	if err != nil {
		return 1, fmt.Errorf("running %s: %w", p.Profiler, err)
	}
	if code != 0 {
		p.Logger.Printf("%s exited with code %d", p.Profiler, code)
	}
	p.Logger.Printf("profile is written in %s", p.OutputDir)
	return 0, nil
}
