package gridcontrol

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/opst/anawrap/pkg/dbs"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/runner"
)

// BackendPath is the backend configuration for a batch system name.
func BackendPath(dir string, name string) string {
	return filepath.Join(dir, "grid-control_backend_"+name+".conf")
}

// LoadBackend reads the backend configuration for name under dir.
func LoadBackend(dir string, name string) (string, error) {
	buf, err := os.ReadFile(BackendPath(dir, name))
	if err != nil {
		return "", fmt.Errorf("backend %q: %w", name, err)
	}
	return string(buf), nil
}

// Emitter writes grid-control projects and submits them with go.py.
type Emitter struct {
	Commander runner.Commander
	Logger    *log.Logger

	// Getenv reads environment variables. nil means os.Getenv.
	Getenv func(string) string

	// NoRun stops before submission.
	NoRun bool
}

// Emit prepares the project of params, materializes the template and, unless
// NoRun, runs "go.py <configuration>".
//
// It returns the exit code of go.py. A non-zero code is logged, not retried.
func (e Emitter) Emit(ctx context.Context, template string, groups *dbs.Manifest, params Params) (int, error) {
	l := e.Logger
	if l == nil {
		l = logger.Null()
	}
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	project := params.Project

	if err := project.Prepare(); err != nil {
		return 1, fmt.Errorf("preparing project: %w", err)
	}
	if err := project.WriteManifest(groups, params.PilotFiles); err != nil {
		return 1, fmt.Errorf("writing manifest: %w", err)
	}

	buf, err := os.ReadFile(template)
	if err != nil {
		return 1, fmt.Errorf("reading grid-control template: %w", err)
	}
	lines := strings.SplitAfter(string(buf), "\n")
	lines = Expand(lines, SubstitutionMap(params, getenv), getenv)
	if err := os.WriteFile(project.ConfigPath(), []byte(strings.Join(lines, "")), os.FileMode(0644)); err != nil {
		return 1, fmt.Errorf("writing grid-control config: %w", err)
	}

	cmd := runner.Command{Path: "go.py", Args: []string{project.ConfigPath()}}
	if e.NoRun {
		l.Printf("stopped before executing %q", cmd.String())
		return 0, nil
	}

	l.Printf("execute %q", cmd.String())
	code, err := e.Commander.Run(ctx, cmd)
	if err != nil {
		return 1, fmt.Errorf("running go.py: %w", err)
	}

	l.Printf("output is written to directory %q", project.OutputPath())
	l.Printf("merge outputs in one file per nick using")
	if project.Remote() {
		l.Printf("    se_output_download.py -lmo %s %s [-t 4]", filepath.Join(project.LocalPath, "output"), project.ConfigPath())
		l.Printf("    %s merge %s [-j 4]", filepath.Base(params.Executable), filepath.Join(project.LocalPath, "output"))
	} else {
		l.Printf("    %s merge %s [-j 4]", filepath.Base(params.Executable), project.OutputPath())
	}
	if code != 0 {
		l.Printf("exit with code %d", code)
	}
	return code, nil
}
