// Package wrapper runs the whole preparation of an analysis run: inputs,
// configuration, and local execution or batch submission.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opst/anawrap/pkg/analysis"
	"github.com/opst/anawrap/pkg/configdoc"
	"github.com/opst/anawrap/pkg/flagtype"
	"github.com/opst/anawrap/pkg/gridcontrol"
	"github.com/opst/anawrap/pkg/inputs"
	"github.com/opst/anawrap/pkg/kube"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/metadata"
	"github.com/opst/anawrap/pkg/reconcile"
	"github.com/opst/anawrap/pkg/repoversions"
	"github.com/opst/anawrap/pkg/runner"
	"github.com/opst/anawrap/pkg/staging"
	kubebatch "k8s.io/api/batch/v1"
)

// BackendKubernetes submits batch jobs as Kubernetes Jobs instead of with
// grid-control.
const BackendKubernetes = "kubernetes"

// Options are the settings of one invocation.
type Options struct {
	Analysis string
	Inputs   []string

	OutputFile  string
	Work        string
	DefaultWork string
	ProjectName string

	// Nick is the dataset nickname. A value containing "auto" derives it
	// from input files.
	Nick string

	DisableRepoVersions bool
	RepoScanBaseDirs    []string
	RepoScanDepth       int
	DisableEnvExpansion bool

	PrintConfig  bool
	PrintEnvVars []string
	SaveConfig   string

	// Fast limits input files in local runs, and jobs in batch runs.
	Fast    *int
	NEvents *int64

	GCConfig   string
	GCIncludes []string
	BackendDir string

	NoRun           bool
	CopyRemoteFiles bool
	LDLibraryPaths  []string

	Profile        string
	ProfileOptions string

	// Batch is the batch backend. Empty runs locally.
	Batch string

	PilotFiles           int
	FilesPerJob          int
	AreaFiles            string
	WallTime             flagtype.WallTime
	Memory               *flagtype.Quantity
	CmdArgs              string
	SEPath               string
	LogToSE              bool
	PartitionLFNModifier string

	// Executable is the analysis program.
	Executable string

	// Self is how batch jobs invoke this program.
	Self string

	LogLevel string

	// Compare is a configuration to compare the generated one with.
	Compare string

	Namespace  string
	Image      string
	Kubeconfig string

	// TempDir receives generated configurations. Empty means os.TempDir().
	TempDir string
}

// Deps are collaborators of Run.
type Deps struct {
	Commander runner.Commander
	Metadata  metadata.Lookup
	Analyses  *analysis.Registry
	Copier    staging.Copier

	// Kube connects to Kubernetes on demand.
	Kube func() (kube.Client, error)

	Now       func() time.Time
	LookupEnv func(string) (string, bool)
	Setenv    func(string, string) error

	Stdout io.Writer
	Stderr io.Writer
}

func (d Deps) withDefaults() Deps {
	if d.Commander == nil {
		d.Commander = runner.ExecCommander{}
	}
	if d.Metadata == nil {
		d.Metadata = metadata.Nop{}
	}
	if d.Analyses == nil {
		d.Analyses = analysis.Default()
	}
	if d.Copier == nil {
		d.Copier = staging.CommandCopier{Commander: d.Commander}
	}
	if d.Kube == nil {
		d.Kube = func() (kube.Client, error) { return nil, errors.New("kubernetes is not available") }
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.LookupEnv == nil {
		d.LookupEnv = os.LookupEnv
	}
	if d.Setenv == nil {
		d.Setenv = os.Setenv
	}
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	if d.Stderr == nil {
		d.Stderr = os.Stderr
	}
	return d
}

func (d Deps) getenv(k string) string {
	v, _ := d.LookupEnv(k)
	return v
}

// Run prepares and runs an analysis, returning the exit code to end with.
//
// An error is returned with a non-zero code.
func Run(ctx context.Context, l *log.Logger, opts Options, deps Deps) (int, error) {
	deps = deps.withDefaults()
	level, err := logger.ParseLevel(opts.LogLevel)
	if err != nil {
		level = logger.Info
	}
	debug := logger.Leveled(l, level, logger.Debug)

	res, err := inputs.Resolve(
		opts.Inputs,
		inputs.WithFallbackNickname(opts.Nick),
		inputs.WithLogger(l),
		inputs.WithFilter(reconcile.DBSFilter(l)),
		inputs.WithEnv(deps.LookupEnv),
	)
	if err != nil {
		return 1, err
	}
	debug.Printf("%d input files for %d nicknames", len(res.Files), len(res.Groups.Nicknames()))

	doc := configdoc.Of("InputFiles", res.Files)
	if opts.NEvents != nil {
		doc = doc.With("ProcessNEvents", *opts.NEvents)
	}

	if opts.Batch != "" {
		if opts.Batch == BackendKubernetes {
			return submitKubernetes(ctx, l, opts, deps, res)
		}
		return submitGridControl(ctx, l, opts, deps, res)
	}

	if opts.Fast != nil {
		res = inputs.Limit(res, *opts.Fast)
		doc = doc.With("InputFiles", res.Files)
	}
	return runLocal(ctx, l, debug, opts, deps, res, doc)
}

func runLocal(
	ctx context.Context,
	l *log.Logger,
	debug *log.Logger,
	opts Options,
	deps Deps,
	res inputs.Resolution,
	doc configdoc.Document,
) (int, error) {
	if !opts.DisableRepoVersions {
		dirs := make([]string, 0, len(opts.RepoScanBaseDirs))
		for _, d := range opts.RepoScanBaseDirs {
			dirs = append(dirs, configdoc.ExpandString(d, deps.LookupEnv))
		}
		revisions := repoversions.Scan(
			ctx, dirs, opts.RepoScanDepth,
			repoversions.WithCommander(deps.Commander),
			repoversions.WithLogger(l),
		)
		doc = repoversions.Apply(doc, revisions)
		doc = doc.With("Date", deps.Now().Format(gridcontrol.DateFormat))
	}

	builder, err := deps.Analyses.Lookup(opts.Analysis)
	if err != nil {
		return 1, err
	}
	nick, consistent := analysis.DetermineNickname(opts.Nick, res.Files, opts.Nick)
	if !consistent {
		l.Printf("WARNING: input files do have different nicknames, which could cause errors")
	}
	debug.Printf("prepare config for %q sample", nick)
	doc = doc.With("Nickname", nick)
	base, err := builder.Build(nick)
	if err != nil {
		return 1, fmt.Errorf("building configuration of %s for %s: %w", opts.Analysis, nick, err)
	}
	doc = configdoc.Merge(doc, base)

	doc, err = metadata.Enrich(ctx, l, doc, nick, deps.Metadata)
	if err != nil {
		return 1, err
	}

	if !opts.DisableEnvExpansion {
		doc = configdoc.ExpandEnv(doc, deps.LookupEnv)
	}

	if opts.CopyRemoteFiles {
		area, staged, err := staging.Stage(ctx, doc, deps.Copier, staging.DefaultIdentifiers)
		if err != nil {
			return 1, fmt.Errorf("copying remote files: %w", err)
		}
		defer func() {
			if err := area.Close(); err != nil {
				l.Printf("removing %s: %s", area.Dir(), err)
			}
		}()
		doc = staged
	}

	doc = doc.With("LogLevel", opts.LogLevel)
	if opts.OutputFile != "" {
		doc = doc.With("OutputPath", opts.OutputFile)
	}

	configPath := opts.SaveConfig
	if configPath == "" {
		tmp := opts.TempDir
		if tmp == "" {
			tmp = os.TempDir()
		}
		if configPath, err = doc.DefaultPath(tmp); err != nil {
			return 1, err
		}
	}
	if err := doc.Save(configPath); err != nil {
		return 1, fmt.Errorf("saving configuration: %w", err)
	}
	l.Printf("saved JSON config %q for temporary usage", configPath)

	if opts.PrintConfig {
		buf, err := doc.Indented("    ")
		if err != nil {
			return 1, err
		}
		if _, err := deps.Stdout.Write(buf); err != nil {
			return 1, err
		}
	}

	for _, p := range opts.LDLibraryPaths {
		current := deps.getenv("LD_LIBRARY_PATH")
		if strings.Contains(current, p) {
			continue
		}
		if err := deps.Setenv("LD_LIBRARY_PATH", p+":"+current); err != nil {
			return 1, err
		}
	}
	for _, name := range opts.PrintEnvVars {
		l.Printf("$%s = %s", name, deps.getenv(name))
	}

	code := 0
	switch {
	case opts.Profile != "":
		code, err = runner.Profiled{
			Commander:  deps.Commander,
			Executable: opts.Executable,
			Profiler:   opts.Profile,
			Option:     opts.ProfileOptions,
			OutputDir:  filepath.Dir(opts.OutputFile),
			Stdout:     deps.Stdout,
			Stderr:     deps.Stderr,
			Logger:     l,
		}.Run(ctx, configPath)
	case !opts.NoRun:
		code, err = runner.Local{
			Commander:  deps.Commander,
			Executable: opts.Executable,
			Stdout:     deps.Stdout,
			Stderr:     deps.Stderr,
			Logger:     l,
		}.Run(ctx, configPath, opts.OutputFile)
	}
	if err != nil {
		return runner.Clamp(code), err
	}

	if opts.Compare != "" {
		baseline, err := configdoc.Load(opts.Compare)
		if err != nil {
			l.Printf("cannot compare with %s: %s", opts.Compare, err)
		} else {
			Compare(l, doc, baseline)
		}
	}
	return runner.Clamp(code), nil
}

func submitGridControl(ctx context.Context, l *log.Logger, opts Options, deps Deps, res inputs.Resolution) (int, error) {
	expand := func(s string) string { return configdoc.ExpandString(s, deps.LookupEnv) }

	project := gridcontrol.NewProject(
		expand(opts.Work), expand(opts.DefaultWork), opts.ProjectName, deps.Now(),
	)
	backend, err := gridcontrol.LoadBackend(expand(opts.BackendDir), opts.Batch)
	if err != nil {
		return 1, err
	}

	params := gridcontrol.Params{
		Project:              project,
		Analysis:             opts.Analysis,
		LogLevel:             opts.LogLevel,
		LogToSE:              opts.LogToSE,
		SEPath:               opts.SEPath,
		Includes:             opts.GCIncludes,
		Executable:           opts.Self,
		FilesPerJob:          opts.FilesPerJob,
		AreaFiles:            opts.AreaFiles,
		WallTime:             opts.WallTime.String(),
		CmdArgs:              opts.CmdArgs,
		PilotFiles:           opts.PilotFiles,
		Backend:              backend,
		PartitionLFNModifier: opts.PartitionLFNModifier,
		CopyRemoteFiles:      opts.CopyRemoteFiles,
		LDLibraryPaths:       opts.LDLibraryPaths,
	}
	if opts.Fast != nil {
		params.Jobs = *opts.Fast
	}
	if opts.Memory != nil {
		params.MemoryMB = opts.Memory.Megabytes()
	}

	emitter := gridcontrol.Emitter{
		Commander: deps.Commander,
		Logger:    l,
		Getenv:    deps.getenv,
		NoRun:     opts.NoRun,
	}
	code, err := emitter.Emit(ctx, expand(opts.GCConfig), res.Groups, params)
	return runner.Clamp(code), err
}

func submitKubernetes(ctx context.Context, l *log.Logger, opts Options, deps Deps, res inputs.Resolution) (int, error) {
	groups := kube.Partition(res.Groups, opts.FilesPerJob, opts.PilotFiles)
	if opts.Fast != nil && 0 <= *opts.Fast && *opts.Fast < len(groups) {
		groups = groups[:*opts.Fast]
	}

	spec := kube.JobSpec{
		Project:    deps.Now().Format(gridcontrol.DateFormat) + "_" + opts.ProjectName,
		Image:      opts.Image,
		Executable: filepath.Base(opts.Self),
		Analysis:   opts.Analysis,
		LogLevel:   opts.LogLevel,
		WallTime:   opts.WallTime,
		Memory:     opts.Memory,
	}
	if opts.CopyRemoteFiles {
		spec.ExtraArgs = append(spec.ExtraArgs, "--copy-remote-files")
	}
	if len(opts.LDLibraryPaths) != 0 {
		spec.ExtraArgs = append(spec.ExtraArgs, "--ld-library-paths")
		spec.ExtraArgs = append(spec.ExtraArgs, opts.LDLibraryPaths...)
	}

	jobs := make([]*kubebatch.Job, 0, len(groups))
	for _, g := range groups {
		jobs = append(jobs, kube.BuildJob(g, spec))
	}

	if opts.NoRun {
		for _, j := range jobs {
			l.Printf("stopped before creating job %s: %s", j.Name, strings.Join(j.Spec.Template.Spec.Containers[0].Command, " "))
		}
		return 0, nil
	}

	client, err := deps.Kube()
	if err != nil {
		return 1, err
	}
	created, err := kube.Submitter{
		Client:    client,
		Namespace: opts.Namespace,
		Logger:    l,
	}.Submit(ctx, jobs)
	if err != nil {
		return 1, err
	}
	l.Printf("%d jobs are submitted to namespace %s", len(created), opts.Namespace)
	return 0, nil
}
