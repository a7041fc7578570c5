package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"

	"github.com/opst/anawrap/cmd/anawrap/subcommands/common"
	submanifest "github.com/opst/anawrap/cmd/anawrap/subcommands/manifest"
	submerge "github.com/opst/anawrap/cmd/anawrap/subcommands/merge"
	subrun "github.com/opst/anawrap/cmd/anawrap/subcommands/run"
	substatus "github.com/opst/anawrap/cmd/anawrap/subcommands/status"
	subver "github.com/opst/anawrap/cmd/anawrap/subcommands/version"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/utils/try"
	"github.com/youta-t/flarc"
)

func main() {
	name := path.Base(os.Args[0])
	logger := logger.Default()
	logger.SetPrefix(fmt.Sprintf("[%s] ", name))

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill,
	)
	defer cancel()

	exit := new(common.ExitStatus)

	cf := try.To(common.DefaultCommonFlags("")).OrFatal(logger)
	run := try.To(subrun.New(subrun.WithExitStatus(exit))).OrFatal(logger)
	status := try.To(substatus.New()).OrFatal(logger)
	merge := try.To(submerge.New()).OrFatal(logger)
	manifest := try.To(submanifest.New()).OrFatal(logger)
	version := try.To(subver.New()).OrFatal(logger)

	anawrap := try.To(
		flarc.NewCommandGroup(
			"Prepare and run analyses of dataset skims, locally or in batch jobs.",
			cf,
			flarc.WithSubcommand("run", run),
			flarc.WithSubcommand("status", status),
			flarc.WithSubcommand("merge", merge),
			flarc.WithSubcommand("manifest", manifest),
			flarc.WithSubcommand("version", version),
		),
	).OrFatal(logger)

	if code := flarc.Run(ctx, anawrap, flarc.WithHelp(true)); code != 0 {
		os.Exit(code)
	}
	os.Exit(exit.Code())
}
