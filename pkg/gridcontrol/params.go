package gridcontrol

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Params are the settings of a grid-control submission.
type Params struct {
	Project Project

	// Analysis is passed to jobs as "-a".
	Analysis string
	LogLevel string

	// LogToSE stores job logs next to outputs on the storage element.
	LogToSE bool

	// SEPath overrides the output location.
	SEPath string

	Includes []string

	// Executable is the program jobs run, as "<name> run ...".
	Executable string

	// Jobs limits the number of jobs. 0 is no limit.
	Jobs int

	FilesPerJob int
	AreaFiles   string
	WallTime    string
	MemoryMB    int64
	CmdArgs     string

	// PilotFiles lists only this many files per nickname. 0 lists all.
	PilotFiles int

	// Backend is the content of the backend configuration.
	Backend string

	PartitionLFNModifier string
	CopyRemoteFiles      bool
	LDLibraryPaths       []string
}

// EpilogArguments is the command line each job runs the executable with.
func (p Params) EpilogArguments() string {
	b := new(strings.Builder)
	b.WriteString("epilog arguments = ")
	fmt.Fprintf(b, "run -a %s ", p.Analysis)
	b.WriteString("--disable-repo-versions ")
	fmt.Fprintf(b, "--log-level %s ", p.LogLevel)
	if p.LogToSE {
		fmt.Fprintf(
			b, "--log-files %s ",
			joinURL(p.Project.OutputPath(), "${DATASETNICK}", "${DATASETNICK}_job_${MY_JOBID}_log.log"),
		)
	} else {
		b.WriteString("--log-files log.log --log-stream stdout ")
	}
	b.WriteString("--print-envvars ROOTSYS CMSSW_BASE DATASETNICK FILE_NAMES LD_LIBRARY_PATH ")
	b.WriteString("--nick $DATASETNICK ")
	b.WriteString("-i $FILE_NAMES ")
	if p.CopyRemoteFiles {
		b.WriteString("--copy-remote-files ")
	}
	if len(p.LDLibraryPaths) != 0 {
		fmt.Fprintf(b, "--ld-library-paths %s", strings.Join(p.LDLibraryPaths, " "))
	}
	return b.String()
}

// SubstitutionMap computes the values of template placeholders.
//
// getenv resolves $CMSSW_BASE and $SCRAM_ARCH in the input file location.
func SubstitutionMap(p Params, getenv func(string) string) map[string]string {
	m := map[string]string{}

	m["include"] = ""
	if len(p.Includes) != 0 {
		m["include"] = "include = " + strings.Join(p.Includes, " ")
	}

	exe := filepath.Base(p.Executable)
	m["epilogexecutable"] = "epilog executable = " + exe

	sepath := p.Project.OutputPath()
	if p.SEPath != "" {
		sepath = p.SEPath
	}
	m["sepath"] = "se path = " + sepath
	m["workdir"] = "workdir = " + p.Project.WorkDir()

	m["jobs"] = ""
	if p.Jobs > 0 {
		m["jobs"] = fmt.Sprintf("jobs = %d", p.Jobs)
	}
	m["inputfiles"] = "input files = \n\t" + filepath.Join(
		getenv("CMSSW_BASE"), "bin", getenv("SCRAM_ARCH"), exe,
	)
	m["filesperjob"] = fmt.Sprintf("files per job = %d", p.FilesPerJob)
	m["areafiles"] = p.AreaFiles + " auxiliaries/mva_weights"
	m["walltime"] = "wall time = " + p.WallTime
	m["memory"] = fmt.Sprintf("memory = %d", p.MemoryMB)

	cmdargs := p.CmdArgs
	if p.PilotFiles > 0 {
		cmdargs = strings.ReplaceAll(cmdargs, "m 3", "m 0")
	}
	m["cmdargs"] = "cmdargs = " + cmdargs

	m["dataset"] = "dataset = \n\t:ListProvider:" + p.Project.ManifestPath()
	m["epilogarguments"] = p.EpilogArguments()

	if p.LogToSE {
		m["seoutputfiles"] = "se output files = *.root"
	} else {
		m["seoutputfiles"] = "se output files = *.log *.root"
	}
	m["backend"] = p.Backend

	m["partitionlfnmodifier"] = ""
	if p.PartitionLFNModifier != "" {
		m["partitionlfnmodifier"] = "partition lfn modifier = " + p.PartitionLFNModifier
	}
	return m
}
