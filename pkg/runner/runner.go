// Package runner runs external programs: the analysis executable, profilers
// and batch tools.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Command is a program invocation.
type Command struct {
	Path string
	Args []string

	// Dir is the working directory. Empty means the current one.
	Dir string

	// Env is added to the process environment.
	Env []string

	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Commander starts commands and waits for them.
type Commander interface {
	// Run runs cmd to its end and returns its exit code.
	//
	// A non-zero exit is not an error; an error means the command could not
	// be run at all.
	Run(ctx context.Context, cmd Command) (int, error)
}

// ExecCommander runs commands as subprocesses.
type ExecCommander struct{}

var _ Commander = ExecCommander{}

func (ExecCommander) Run(ctx context.Context, c Command) (int, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if len(c.Env) != 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	err := cmd.Run()
	if exitErr := new(exec.ExitError); errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// Output runs c and returns what it wrote to stdout.
func Output(ctx context.Context, cmdr Commander, c Command) (string, int, error) {
	buf := new(strings.Builder)
	c.Stdout = buf
	code, err := cmdr.Run(ctx, c)
	return buf.String(), code, err
}

// Clamp maps exit codes which cannot be passed to the OS to 1.
func Clamp(code int) int {
	if code >= 256 || code < 0 {
		return 1
	}
	return code
}

// Local runs the analysis executable with a configuration file.
type Local struct {
	Commander  Commander
	Executable string
	Stdout     io.Writer
	Stderr     io.Writer
	Logger     *log.Logger
}

// Run runs "<executable> <configPath>" and returns its clamped exit code.
//
// The directory of outputFile is created beforehand.
func (l Local) Run(ctx context.Context, configPath string, outputFile string) (int, error) {
	if dir := filepath.Dir(outputFile); outputFile != "" && dir != "." {
		if err := os.MkdirAll(dir, os.FileMode(0755)); err != nil {
			return 1, fmt.Errorf("creating output directory: %w", err)
		}
	}

	cmd := Command{
		Path: l.Executable, Args: []string{configPath},
		Stdout: l.Stdout, Stderr: l.Stderr,
	}
	l.Logger.Printf("execute %q", cmd.String())
	code, err := l.Commander.Run(ctx, cmd)
	if err != nil {
		return 1, fmt.Errorf("running %s: %w", l.Executable, err)
	}
	if code != 0 {
		l.Logger.Printf("exit with code %d", code)
		l.Logger.Printf("configuration: %s", configPath)
	}
	return Clamp(code), nil
}
