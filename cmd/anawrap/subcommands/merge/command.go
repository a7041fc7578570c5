package merge

import (
	"context"
	"fmt"
	"log"

	"github.com/opst/anawrap/cmd/anawrap/subcommands/common"
	"github.com/opst/anawrap/pkg/postproc"
	"github.com/opst/anawrap/pkg/runner"
	"github.com/opst/anawrap/pkg/settings"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Parallel   int    `flag:"parallel" alias:"j" metavar:"N" help:"Number of merges running at once."`
	Dest       string `flag:"dest" metavar:"URL" help:"Copy merged files there with gfal-copy. By default, they are written to \"merged\" next to OUTPUT_DIR."`
	Previous   string `flag:"previous" metavar:"DIR" help:"Directory of merged files of an earlier project, merged in as well."`
	NoRun      bool   `flag:"no-run" help:"Print the commands instead of running them."`
	NoProgress bool   `flag:"no-progress" help:"Do not show a progress bar."`
}

const ARG_OUTPUT_DIR = "OUTPUT_DIR"

type Option struct {
	commander runner.Commander
}

func WithCommander(c runner.Commander) func(*Option) *Option {
	return func(o *Option) *Option {
		o.commander = c
		return o
	}
}

func New(options ...func(*Option) *Option) (flarc.Command, error) {
	option := &Option{commander: runner.ExecCommander{}}
	for _, o := range options {
		option = o(option)
	}

	return flarc.NewCommand(
		"Merge outputs of a batch project into one file per nickname.",
		Flag{Parallel: 1},
		flarc.Args{
			{
				Name: ARG_OUTPUT_DIR, Required: true,
				Help: "Output directory of the project, having one directory per nickname.",
			},
		},
		common.NewTask(Task(option)),
		flarc.WithDescription(`
Merge outputs of a batch project into one file per nickname with hadd.

Example
-------

	{{ .Command }} -j 4 $ARTUS_WORK_BASE/2024-05-06_07-08_analysis/output
`),
	)
}

func Task(option *Option) common.Task[Flag] {
	return func(
		ctx context.Context,
		l *log.Logger,
		_ settings.Settings,
		cl flarc.Commandline[Flag],
		_ []any,
	) error {
		flags := cl.Flags()
		if flags.Parallel < 1 {
			return fmt.Errorf("%w: --parallel should be positive", flarc.ErrUsage)
		}

		plan, err := postproc.MergePlan(cl.Args()[ARG_OUTPUT_DIR][0], flags.Dest, flags.Previous)
		if err != nil {
			return err
		}
		defer func() {
			if err := plan.Close(); err != nil {
				l.Printf("removing scratch space: %s", err)
			}
		}()

		if flags.NoRun {
			for _, t := range plan.Tasks {
				fmt.Fprintln(cl.Stdout(), t.Describe())
			}
			return nil
		}

		pool := postproc.Pool{
			Commander:   option.commander,
			Parallelism: flags.Parallel,
			Logger:      l,
		}
		if !flags.NoProgress {
			pool.Progress = cl.Stderr()
		}
		results, err := pool.Run(ctx, plan.Tasks)
		for _, r := range results {
			if r.Err == nil {
				fmt.Fprintf(cl.Stdout(), "%s\t%s\n", r.Task, plan.Outputs[r.Task])
			}
		}
		return err
	}
}
