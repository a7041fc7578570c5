package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"

	"github.com/opst/anawrap/cmd/anawrap/subcommands/common"
	"github.com/opst/anawrap/pkg/dbs"
	"github.com/opst/anawrap/pkg/reconcile"
	"github.com/opst/anawrap/pkg/settings"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Workdir string `flag:"workdir" metavar:"DIR" help:"grid-control work directory. Defaults to \"workdir\" next to DBS_FILE."`
	Pending bool   `flag:"pending" help:"Print files yet to be processed as a .dbs file."`
	Watch   bool   `flag:"watch" help:"Print again whenever job records change, until interrupted."`
}

const ARG_DBS = "DBS_FILE"

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Show how far a batch project has processed its datasets.",
		Flag{},
		flarc.Args{
			{
				Name: ARG_DBS, Required: true,
				Help: "Datasets file of the project (datasets.dbs in the project directory).",
			},
		},
		common.NewTask(Task()),
		flarc.WithDescription(`
Show how far a batch project has processed its datasets.

Files consumed by succeeded jobs are counted as processed. The rest is pending,
and is what "anawrap run" submits when it is given the same DBS_FILE again.

Example
-------

	{{ .Command }} $ARTUS_WORK_BASE/2024-05-06_07-08_analysis/datasets.dbs --pending
`),
	)
}

func Task() common.Task[Flag] {
	return func(
		ctx context.Context,
		l *log.Logger,
		_ settings.Settings,
		cl flarc.Commandline[Flag],
		_ []any,
	) error {
		flags := cl.Flags()
		dbsPath := cl.Args()[ARG_DBS][0]

		groups, err := dbs.Load(dbsPath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", dbsPath, err)
		}
		workdir := flags.Workdir
		if workdir == "" {
			workdir = reconcile.ForDBS(dbsPath)
		}

		show := func() error {
			s := reconcile.Summarize(groups, workdir, l)
			return Print(cl.Stdout(), groups, s, flags.Pending)
		}
		if !flags.Watch {
			return show()
		}

		var showErr error
		err = reconcile.Watch(ctx, workdir, func() {
			if err := show(); err != nil {
				l.Printf("%s", err)
				showErr = err
			}
		})
		if errors.Is(err, context.Canceled) {
			return showErr
		}
		return err
	}
}

// Print writes a summary per nickname, then the pending manifest when asked.
func Print(w io.Writer, groups *dbs.Manifest, s reconcile.Summary, pending bool) error {
	if _, err := fmt.Fprintf(w, "jobs: %d (succeeded: %d)\n", s.Jobs, s.Succeeded); err != nil {
		return err
	}
	nicks := groups.Nicknames()
	width := 0
	for _, n := range nicks {
		width = max(width, len(n))
	}
	remaining := s.Pending.Groups()
	for _, n := range nicks {
		if _, err := fmt.Fprintf(
			w, "%-*s  processed: %d, pending: %d\n",
			width, n, s.Processed[n], len(remaining[n]),
		); err != nil {
			return err
		}
	}
	if !pending {
		return nil
	}
	if !slices.ContainsFunc(nicks, func(n string) bool { return len(remaining[n]) != 0 }) {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return dbs.Write(w, s.Pending, dbs.WriteOption{})
}
