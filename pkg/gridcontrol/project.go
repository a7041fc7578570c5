// Package gridcontrol prepares grid-control projects: the dataset manifest,
// the job configuration materialized from a template, and the submission.
package gridcontrol

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opst/anawrap/pkg/dbs"
)

// DateFormat stamps project directories.
const DateFormat = "2006-01-02_15-04"

const (
	ManifestName = "datasets.dbs"
	ConfigName   = "grid-control_config.conf"
)

// Project is where a batch submission lives.
type Project struct {
	// Path is "<work>/<date>_<name>". It may be a storage element URL.
	Path string

	// LocalPath holds the manifest, the configuration and the workdir.
	// It equals Path unless Path is on a remote storage element.
	LocalPath string
}

// NewProject lays out a project under work.
//
// When work is an srm:// URL, the local part goes under defaultWork instead.
func NewProject(work string, defaultWork string, name string, now time.Time) Project {
	base := now.Format(DateFormat) + "_" + name
	p := Project{Path: joinURL(work, base)}
	p.LocalPath = p.Path
	if p.Remote() {
		p.LocalPath = filepath.Join(defaultWork, base)
	}
	return p
}

// joinURL joins like filepath.Join, but keeps "scheme://" intact.
func joinURL(base string, elem ...string) string {
	if !strings.Contains(base, "://") {
		return filepath.Join(append([]string{base}, elem...)...)
	}
	ret := strings.TrimRight(base, "/")
	for _, e := range elem {
		ret += "/" + strings.Trim(e, "/")
	}
	return ret
}

// Remote reports whether outputs are written to a storage element.
func (p Project) Remote() bool {
	return strings.HasPrefix(p.Path, "srm://")
}

// OutputPath is where job outputs are stored.
func (p Project) OutputPath() string {
	return joinURL(p.Path, "output")
}

func (p Project) ManifestPath() string {
	return filepath.Join(p.LocalPath, ManifestName)
}

func (p Project) ConfigPath() string {
	return filepath.Join(p.LocalPath, ConfigName)
}

// WorkDir is grid-control's working directory, holding job status records.
func (p Project) WorkDir() string {
	return filepath.Join(p.LocalPath, "workdir")
}

// Prepare creates the local project directory and its "output" directory.
func (p Project) Prepare() error {
	return os.MkdirAll(filepath.Join(p.LocalPath, "output"), os.FileMode(0755))
}

// WriteManifest writes groups as the project's dataset manifest.
//
// When pilot is positive, only that many files per nickname are listed.
func (p Project) WriteManifest(groups *dbs.Manifest, pilot int) error {
	return dbs.Save(p.ManifestPath(), groups, dbs.WriteOption{MaxFilesPerNick: pilot})
}
