// Package postproc runs post-processing of job outputs: merging per-nickname
// outputs and transferring them, a bounded number at a time.
package postproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/runner"
	"golang.org/x/sync/errgroup"
)

// Task is a chain of commands. Each command runs only when the previous one
// exited with 0.
type Task struct {
	Name     string
	Commands []runner.Command
}

// Result is the outcome of a Task.
type Result struct {
	Task string

	// Code is the exit code of the last command run.
	Code int
	Err  error
}

// Pool runs tasks in parallel.
type Pool struct {
	Commander runner.Commander

	// Parallelism is how many tasks run at once. Less than 1 means 1.
	Parallelism int

	// Progress receives a progress bar. nil shows none.
	Progress io.Writer

	Logger *log.Logger
}

const progress pb.ProgressBarTemplate = `{{with string . "prefix"}}{{.}} {{end}}{{counters . }} {{bar . }} {{percent . }}`

// Run runs every task, even when some of them fail.
//
// Results are in the order of tasks. The error joins failures of all tasks.
func (p Pool) Run(ctx context.Context, tasks []Task) ([]Result, error) {
	l := p.Logger
	if l == nil {
		l = logger.Null()
	}
	limit := p.Parallelism
	if limit < 1 {
		limit = 1
	}

	var bar *pb.ProgressBar
	if p.Progress != nil {
		bar = progress.New(len(tasks))
		bar.SetWriter(p.Progress)
		bar.Set("prefix", "post-processing:")
		bar.Start()
	}

	results := make([]Result, len(tasks))
	errs := make([]error, len(tasks))

	eg := new(errgroup.Group)
	eg.SetLimit(limit)
	for i, task := range tasks {
		eg.Go(func() error {
			code, err := p.run(ctx, task, l)
			results[i] = Result{Task: task.Name, Code: code, Err: err}
			errs[i] = err
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}
	eg.Wait()

	if bar != nil {
		bar.Finish()
	}
	return results, errors.Join(errs...)
}

func (p Pool) run(ctx context.Context, task Task, l *log.Logger) (int, error) {
	for _, cmd := range task.Commands {
		if err := ctx.Err(); err != nil {
			return 1, fmt.Errorf("%s: %w", task.Name, err)
		}
		l.Printf("[%s] execute %q", task.Name, cmd.String())
		code, err := p.Commander.Run(ctx, cmd)
		if err != nil {
			return 1, fmt.Errorf("%s: %s: %w", task.Name, cmd.Path, err)
		}
		if code != 0 {
			return code, fmt.Errorf("%s: %s exited with code %d", task.Name, cmd.Path, code)
		}
	}
	return 0, nil
}

// Describe is the task as a shell-like script, for dry runs.
func (t Task) Describe() string {
	lines := make([]string, 0, len(t.Commands))
	for _, c := range t.Commands {
		lines = append(lines, c.String())
	}
	return fmt.Sprintf("# %s\n%s", t.Name, strings.Join(lines, " &&\n  "))
}
