package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/opst/anawrap/cmd/anawrap/subcommands/common"
	"github.com/opst/anawrap/pkg/flagtype"
	"github.com/opst/anawrap/pkg/kube"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/metadata"
	"github.com/opst/anawrap/pkg/settings"
	"github.com/opst/anawrap/pkg/utils/args"
	"github.com/opst/anawrap/pkg/wrapper"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Analysis   string   `flag:"analysis" alias:"a" metavar:"NAME|FILE" help:"Analysis (SM, MSSM, MSSM2017) or a configuration file (.json, .yaml, .hcl) to build the configuration from."`
	Input      []string `flag:"input" alias:"i" metavar:"SPEC" help:"Input files: .root files, globs, directories, .txt lists or .dbs files. Repeatable."`
	OutputFile string   `flag:"output-file" alias:"o" metavar:"FILE" help:"Output file of the analysis."`

	Work        string `flag:"work" alias:"w" metavar:"DIR" help:"Base of batch projects. Defaults to the settings (\"$ARTUS_WORK_BASE\")."`
	ProjectName string `flag:"project-name" alias:"n" metavar:"NAME" help:"Name of the batch project, after a date prefix."`
	Nick        string `flag:"nick" metavar:"NICKNAME" help:"Dataset nickname. \"auto\" derives it from input file names."`

	DisableRepoVersions bool               `flag:"disable-repo-versions" help:"Do not record revisions of repositories in the configuration."`
	RepoScanBaseDirs    []string           `flag:"repo-scan-base-dirs" metavar:"DIR" help:"Where repositories are searched. Defaults to the settings. Repeatable."`
	RepoScanDepth       *args.Adapter[int] `flag:"repo-scan-depth" metavar:"N" help:"How deep repositories are searched. Defaults to the settings."`
	DisableEnvExpansion bool               `flag:"disable-envvar-expansion" help:"Do not expand environment variables in the configuration."`

	PrintConfig  bool     `flag:"print-config" alias:"P" help:"Print the configuration."`
	PrintEnvVars []string `flag:"print-envvars" metavar:"NAME" help:"Print environment variables before running. Repeatable."`
	SaveConfig   string   `flag:"save-config" alias:"s" metavar:"FILE" help:"Where the configuration is saved. Defaults to a temporary file named by its hash."`

	Fast    *args.Adapter[int]   `flag:"fast" alias:"f" metavar:"N" help:"Process only the first N files locally, or submit only N jobs."`
	NEvents *args.Adapter[int64] `flag:"n-events" alias:"e" metavar:"N" help:"Process only N events per file."`

	GCConfig         string   `flag:"gc-config" metavar:"FILE" help:"grid-control configuration template. Defaults to the settings."`
	GCConfigIncludes []string `flag:"gc-config-includes" metavar:"FILE" help:"Files included by the grid-control configuration. Repeatable."`

	NoRun           bool     `flag:"no-run" help:"Prepare everything, but do not run or submit."`
	CopyRemoteFiles bool     `flag:"copy-remote-files" help:"Copy remote files referred by the configuration to a temporary directory before running."`
	LDLibraryPaths  []string `flag:"ld-library-paths" metavar:"DIR" help:"Prepended to LD_LIBRARY_PATH. Repeatable."`
	Profile         string   `flag:"profile" metavar:"igprof|valgrind" help:"Run the executable under a profiler."`
	ProfileOptions  string   `flag:"profile-options" metavar:"pp|mp" help:"Profiling performance (pp) or memory (mp)."`

	Batch                string             `flag:"batch" alias:"b" metavar:"BACKEND" help:"Submit batch jobs: a grid-control backend name, or \"kubernetes\". Empty runs locally."`
	PilotJobFiles        int                `flag:"pilot-job-files" metavar:"N" help:"Only N files per nickname are submitted. 0 submits all."`
	FilesPerJob          int                `flag:"files-per-job" metavar:"N" help:"Files per batch job."`
	AreaFiles            string             `flag:"area-files" metavar:"PATTERNS" help:"Files sent with grid-control jobs."`
	WallTime             *flagtype.WallTime `flag:"wall-time" metavar:"HH:MM:SS" help:"Wall time of batch jobs."`
	Memory               *flagtype.Quantity `flag:"memory" metavar:"MB|QUANTITY" help:"Memory of batch jobs. A plain number is in MB."`
	CmdArgs              string             `flag:"cmdargs" metavar:"ARGS" help:"Arguments of go.py."`
	SEPath               string             `flag:"se-path" metavar:"URL" help:"Where batch outputs are stored. Defaults to <project>/output."`
	LogToSE              bool               `flag:"log-to-se" help:"Store job logs next to outputs."`
	PartitionLFNModifier string             `flag:"partition-lfn-modifier" metavar:"MODIFIER" help:"grid-control partition lfn modifier."`

	Executable string `flag:"executable" alias:"x" metavar:"PROGRAM" help:"Analysis executable."`
	Datasets   string `flag:"datasets" metavar:"FILE" help:"Datasets file to look up metadata. Defaults to the settings."`
	DatasetsDB string `flag:"datasets-db" metavar:"DSN" help:"PostgreSQL to look up metadata. Defaults to the settings."`

	LogLevel  string   `flag:"log-level" metavar:"debug|info|warning|error|critical" help:"Log level of the analysis and of this command."`
	LogFiles  []string `flag:"log-files" metavar:"FILE" help:"Files to write logs to, as well. Repeatable."`
	LogStream string   `flag:"log-stream" metavar:"stderr|stdout|none" help:"Where logs are written."`

	Compare string `flag:"compare" metavar:"FILE" help:"Compare the configuration with another one after running."`

	Namespace string `flag:"namespace" metavar:"NAMESPACE" help:"Kubernetes namespace of jobs. Defaults to the settings."`
	Image     string `flag:"image" metavar:"IMAGE" help:"Container image of Kubernetes jobs. Defaults to the settings."`
}

// RunFunc runs a prepared invocation.
type RunFunc func(ctx context.Context, l *log.Logger, opts wrapper.Options, deps wrapper.Deps) (int, error)

type Option struct {
	run    RunFunc
	lookup func(ctx context.Context, l *log.Logger, s settings.Settings) (metadata.Lookup, func(), error)
	exit   *common.ExitStatus
}

func WithRun(run RunFunc) func(*Option) *Option {
	return func(o *Option) *Option {
		o.run = run
		return o
	}
}

// WithExitStatus receives the exit code of the analysis executable or the
// batch tool.
func WithExitStatus(e *common.ExitStatus) func(*Option) *Option {
	return func(o *Option) *Option {
		o.exit = e
		return o
	}
}

func WithMetadata(lookup func(ctx context.Context, l *log.Logger, s settings.Settings) (metadata.Lookup, func(), error)) func(*Option) *Option {
	return func(o *Option) *Option {
		o.lookup = lookup
		return o
	}
}

func New(options ...func(*Option) *Option) (flarc.Command, error) {
	option := &Option{
		run:    wrapper.Run,
		lookup: MetadataLookup,
	}
	for _, o := range options {
		option = o(option)
	}

	return flarc.NewCommand(
		"Prepare the configuration of an analysis and run it locally or in batch jobs.",
		Flag{
			OutputFile:     "output.root",
			ProjectName:    "analysis",
			Nick:           "auto",
			RepoScanDepth:  args.OptionalInt(),
			Fast:           args.OptionalInt(),
			NEvents:        args.OptionalInt64(),
			ProfileOptions: "pp",
			FilesPerJob:    15,
			WallTime:       ptr(flagtype.MustParseWallTime("24:00:00")),
			Memory:         flagtype.MustParse("3000"),
			CmdArgs:        "-cG -m 3",
			Executable:     "HiggsToTauTauAnalysis",
			LogLevel:       "info",
			LogStream:      "stderr",
		},
		flarc.Args{},
		common.NewTask(Task(option)),
		flarc.WithDescription(`
Prepare the configuration of an analysis and run it.

Input files are resolved, the configuration of the analysis is built for their
dataset nickname and enriched with metadata of the dataset, then the analysis
executable runs with it.

With --batch, jobs are submitted instead: with grid-control for a backend name,
or as Kubernetes Jobs for "kubernetes".

Example
-------

Running the SM analysis on a directory of skims:

	{{ .Command }} -a SM -i /store/DYJetsToLL/ -o dy.root

Submitting the MSSM analysis to Kubernetes, 10 files per job:

	{{ .Command }} -a MSSM -i datasets.dbs --batch kubernetes --files-per-job 10
`),
	)
}

func ptr[T any](v T) *T {
	return &v
}

func Task(option *Option) common.Task[Flag] {
	if option.run == nil {
		option.run = wrapper.Run
	}
	if option.lookup == nil {
		option.lookup = MetadataLookup
	}
	return func(
		ctx context.Context,
		l *log.Logger,
		s settings.Settings,
		cl flarc.Commandline[Flag],
		params []any,
	) error {
		flags := cl.Flags()
		if flags.Analysis == "" {
			return fmt.Errorf("%w: --analysis is required", flarc.ErrUsage)
		}
		if len(flags.Input) == 0 {
			return fmt.Errorf("%w: --input is required", flarc.ErrUsage)
		}
		if _, err := logger.ParseLevel(flags.LogLevel); err != nil {
			return fmt.Errorf("%w: --log-level: %w", flarc.ErrUsage, err)
		}

		var stream io.Writer
		switch flags.LogStream {
		case "stderr", "":
			stream = cl.Stderr()
		case "stdout":
			stream = cl.Stdout()
		case "none":
		default:
			return fmt.Errorf(`%w: --log-stream should be "stderr", "stdout" or "none"`, flarc.ErrUsage)
		}
		out, closeLogs, err := logger.Tee(stream, flags.LogFiles...)
		if err != nil {
			return fmt.Errorf("opening log files: %w", err)
		}
		defer closeLogs()
		l = log.New(out, l.Prefix(), l.Flags())

		if flags.Datasets != "" {
			s.Datasets = flags.Datasets
		}
		if flags.DatasetsDB != "" {
			s.DatasetsDB = flags.DatasetsDB
		}

		opts := Options(flags, s)
		if self, err := os.Executable(); err == nil {
			opts.Self = self
		} else {
			opts.Self = os.Args[0]
		}

		lookup, closeLookup, err := option.lookup(ctx, l, s)
		if err != nil {
			return err
		}
		defer closeLookup()

		deps := wrapper.Deps{
			Metadata: lookup,
			Kube: func() (kube.Client, error) {
				return kube.Connect(s.Kubernetes.Kubeconfig)
			},
			Stdout: cl.Stdout(),
			Stderr: cl.Stderr(),
		}

		code, err := option.run(ctx, l, opts, deps)
		if err != nil {
			return err
		}
		option.exit.Set(code)
		return nil
	}
}

// Options combines flags with settings. Flags not given fall back to settings.
func Options(flags Flag, s settings.Settings) wrapper.Options {
	opts := wrapper.Options{
		Analysis:             flags.Analysis,
		Inputs:               flags.Input,
		OutputFile:           flags.OutputFile,
		Work:                 flags.Work,
		DefaultWork:          s.Work,
		ProjectName:          flags.ProjectName,
		Nick:                 flags.Nick,
		DisableRepoVersions:  flags.DisableRepoVersions,
		RepoScanBaseDirs:     flags.RepoScanBaseDirs,
		RepoScanDepth:        s.RepoScanDepth,
		DisableEnvExpansion:  flags.DisableEnvExpansion,
		PrintConfig:          flags.PrintConfig,
		PrintEnvVars:         flags.PrintEnvVars,
		SaveConfig:           flags.SaveConfig,
		GCConfig:             flags.GCConfig,
		GCIncludes:           flags.GCConfigIncludes,
		BackendDir:           s.BackendDir,
		NoRun:                flags.NoRun,
		CopyRemoteFiles:      flags.CopyRemoteFiles,
		LDLibraryPaths:       flags.LDLibraryPaths,
		Profile:              flags.Profile,
		ProfileOptions:       flags.ProfileOptions,
		Batch:                flags.Batch,
		PilotFiles:           flags.PilotJobFiles,
		FilesPerJob:          flags.FilesPerJob,
		AreaFiles:            flags.AreaFiles,
		Memory:               flags.Memory,
		CmdArgs:              flags.CmdArgs,
		SEPath:               flags.SEPath,
		LogToSE:              flags.LogToSE,
		PartitionLFNModifier: flags.PartitionLFNModifier,
		Executable:           flags.Executable,
		LogLevel:             flags.LogLevel,
		Compare:              flags.Compare,
		Namespace:            flags.Namespace,
		Image:                flags.Image,
	}
	if opts.Work == "" {
		opts.Work = s.Work
	}
	if len(opts.RepoScanBaseDirs) == 0 {
		opts.RepoScanBaseDirs = s.RepoScanBaseDirs
	}
	if d, ok := flags.RepoScanDepth.Value(); ok {
		opts.RepoScanDepth = d
	}
	if opts.GCConfig == "" {
		opts.GCConfig = s.GridControlConfig
	}
	if opts.Namespace == "" {
		opts.Namespace = s.Kubernetes.Namespace
	}
	if opts.Image == "" {
		opts.Image = s.Kubernetes.Image
	}
	if flags.WallTime != nil {
		opts.WallTime = *flags.WallTime
	}
	if n, ok := flags.Fast.Value(); ok {
		opts.Fast = &n
	}
	if n, ok := flags.NEvents.Value(); ok {
		opts.NEvents = &n
	}
	return opts
}

// MetadataLookup looks up dataset metadata in the database, then in the
// datasets file, with the results cached.
//
// Sources which are not configured are skipped. Without any, nothing is known.
func MetadataLookup(ctx context.Context, l *log.Logger, s settings.Settings) (metadata.Lookup, func(), error) {
	lookups := []metadata.Lookup{}
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if s.DatasetsDB != "" {
		pg, closer, err := metadata.ConnectPostgres(ctx, s.DatasetsDB, s.DatasetsTable)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to the datasets database: %w", err)
		}
		lookups = append(lookups, pg)
		closers = append(closers, closer)
	}
	if s.Datasets != "" {
		fl, err := metadata.LoadDatasets(s.Datasets)
		switch {
		case errors.Is(err, os.ErrNotExist):
			l.Printf("datasets file %s is not found", filepath.Clean(s.Datasets))
		case err != nil:
			closeAll()
			return nil, nil, err
		default:
			lookups = append(lookups, fl)
		}
	}

	if len(lookups) == 0 {
		l.Printf("WARNING: no datasets are available. metadata of datasets is not looked up")
		return metadata.Nop{}, closeAll, nil
	}
	return metadata.Cached(metadata.First(lookups...)), closeAll, nil
}
