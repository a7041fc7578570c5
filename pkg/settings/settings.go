// Package settings reads anawrap.yaml, the defaults of a working area.
package settings

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is searched from the working directory upwards.
const FileName = "anawrap.yaml"

type Kubernetes struct {
	Namespace  string `yaml:"namespace"`
	Image      string `yaml:"image"`
	Kubeconfig string `yaml:"kubeconfig"`
}

type Settings struct {
	// Work is where batch projects are made.
	Work string `yaml:"work"`

	// GridControlConfig is the template of grid-control configurations.
	GridControlConfig string `yaml:"gridControlConfig"`

	// BackendDir has grid-control_backend_<name>.conf files.
	BackendDir string `yaml:"backendDir"`

	// Datasets is the datasets file for metadata lookup.
	Datasets string `yaml:"datasets"`

	// DatasetsDB is a PostgreSQL connection string for metadata lookup.
	DatasetsDB    string `yaml:"datasetsDB"`
	DatasetsTable string `yaml:"datasetsTable"`

	RepoScanBaseDirs []string `yaml:"repoScanBaseDirs"`
	RepoScanDepth    int      `yaml:"repoScanDepth"`

	Kubernetes Kubernetes `yaml:"kubernetes"`
}

// Default are the settings when no file says otherwise.
//
// Values can refer to environment variables, expanded by Expand.
func Default() Settings {
	return Settings{
		Work:              "$ARTUS_WORK_BASE",
		GridControlConfig: "$CMSSW_BASE/src/Artus/Configuration/data/grid-control_base_config.conf",
		BackendDir:        "$CMSSW_BASE/src/Artus/Configuration/data",
		Datasets:          "$CMSSW_BASE/src/Kappa/Skimming/data/datasets.json",
		DatasetsTable:     "datasets",
		RepoScanBaseDirs:  []string{"$CMSSW_BASE/src/"},
		RepoScanDepth:     3,
		Kubernetes:        Kubernetes{Namespace: "default"},
	}
}

// Find looks for FileName in from and its ancestors.
//
// It returns "" when there is none.
func Find(from string) string {
	if abs, err := filepath.Abs(from); err == nil {
		from = abs
	}
	for dir := from; ; {
		candidate := filepath.Join(dir, FileName)
		if s, err := os.Stat(candidate); err == nil && s.Mode().IsRegular() {
			return candidate
		}
		next := filepath.Dir(dir)
		if next == dir {
			return ""
		}
		dir = next
	}
}

// Load reads settings from path over Default.
//
// A missing file yields Default.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return Settings{}, err
	}
	if err := yaml.Unmarshal(content, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Expand expands environment variables in paths.
func (s Settings) Expand(getenv func(string) string) Settings {
	if getenv == nil {
		getenv = os.Getenv
	}
	ex := func(v string) string { return os.Expand(v, getenv) }

	s.Work = ex(s.Work)
	s.GridControlConfig = ex(s.GridControlConfig)
	s.BackendDir = ex(s.BackendDir)
	s.Datasets = ex(s.Datasets)
	s.DatasetsDB = ex(s.DatasetsDB)
	s.Kubernetes.Kubeconfig = ex(s.Kubernetes.Kubeconfig)
	dirs := make([]string, len(s.RepoScanBaseDirs))
	for i, d := range s.RepoScanBaseDirs {
		dirs[i] = ex(d)
	}
	s.RepoScanBaseDirs = dirs
	return s
}
