package manifest

import (
	"context"
	"fmt"
	"log"

	"github.com/opst/anawrap/cmd/anawrap/subcommands/common"
	"github.com/opst/anawrap/pkg/dbs"
	"github.com/opst/anawrap/pkg/inputs"
	"github.com/opst/anawrap/pkg/reconcile"
	"github.com/opst/anawrap/pkg/settings"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Nick        string `flag:"nick" metavar:"NICKNAME" help:"Nickname of files whose names do not tell one."`
	NoReconcile bool   `flag:"no-reconcile" help:"Keep files of .dbs inputs which earlier jobs already processed."`
	Output      string `flag:"output" alias:"o" metavar:"FILE" help:"Write the manifest to FILE instead of stdout."`
}

const ARG_SPEC = "SPEC"

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Resolve input specifications into a .dbs manifest.",
		Flag{Nick: "auto"},
		flarc.Args{
			{
				Name: ARG_SPEC, Required: true, Repeatable: true,
				Help: "Input specification: .root files, globs, directories, .txt lists or .dbs files.",
			},
		},
		common.NewTask(Task()),
		flarc.WithDescription(`
Resolve input specifications, as "anawrap run --input" does, and print them as
a .dbs manifest grouped by nickname.

Example
-------

	{{ .Command }} '/store/skims/**/*.root' -o datasets.dbs
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
		options := []inputs.Option{
			inputs.WithFallbackNickname(flags.Nick),
			inputs.WithLogger(l),
		}
		if !flags.NoReconcile {
			options = append(options, inputs.WithFilter(reconcile.DBSFilter(l)))
		}
		res, err := inputs.Resolve(cl.Args()[ARG_SPEC], options...)
		if err != nil {
			return err
		}
		if res.Groups.Len() == 0 {
			l.Printf("no input files are found")
		}

		if flags.Output == "" {
			return dbs.Write(cl.Stdout(), res.Groups, dbs.WriteOption{})
		}
		if err := dbs.Save(flags.Output, res.Groups, dbs.WriteOption{}); err != nil {
			return fmt.Errorf("writing %s: %w", flags.Output, err)
		}
		l.Printf("%d files of %d nicknames are written to %s", res.Groups.Len(), len(res.Groups.Nicknames()), flags.Output)
		return nil
	}
}
