package metadata

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dataset is an entry of a datasets file.
//
// Numbers may be written as strings, as Kappa's datasets.json does.
type Dataset struct {
	GeneratedEvents Number `yaml:"n_events_generated"`
	CrossSection    Number `yaml:"xsec"`
	GeneratorWeight Number `yaml:"generatorWeight"`
	Data            *bool  `yaml:"data"`
}

// Number is a numeric field which may be absent.
type Number struct {
	Value float64
	Set   bool
}

func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: a number is expected", node.Line)
	}
	if node.ShortTag() == "!!null" {
		*n = Number{}
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(node.Value), 64)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*n = Number{Value: v, Set: true}
	return nil
}

// FileLookup looks up metadata from a datasets file keyed by nickname.
//
//	{
//	    "DYJetsToLL_M50_madgraph": {
//	        "n_events_generated": "49144274",
//	        "xsec": 5765.4,
//	        "generatorWeight": 1.0
//	    },
//	    "SingleMuon_Run2016B": {"data": true}
//	}
type FileLookup struct {
	datasets map[string]Dataset
}

var _ Lookup = &FileLookup{}

func NewFileLookup(datasets map[string]Dataset) *FileLookup {
	return &FileLookup{datasets: datasets}
}

// LoadDatasets reads a datasets file in JSON or YAML.
func LoadDatasets(path string) (*FileLookup, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	datasets := map[string]Dataset{}
	if err := yaml.Unmarshal(buf, &datasets); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewFileLookup(datasets), nil
}

func (f *FileLookup) GeneratedEvents(_ context.Context, nick string) (int64, bool, error) {
	d, ok := f.datasets[nick]
	if !ok || !d.GeneratedEvents.Set {
		return 0, false, nil
	}
	return int64(d.GeneratedEvents.Value), true, nil
}

func (f *FileLookup) CrossSection(_ context.Context, nick string) (float64, bool, error) {
	d, ok := f.datasets[nick]
	if !ok || !d.CrossSection.Set {
		return 0, false, nil
	}
	return d.CrossSection.Value, true, nil
}

func (f *FileLookup) GeneratorWeight(_ context.Context, nick string) (float64, bool, error) {
	d, ok := f.datasets[nick]
	if !ok || !d.GeneratorWeight.Set {
		return 0, false, nil
	}
	return d.GeneratorWeight.Value, true, nil
}

// IsData follows the "data" field. Without it, nicknames of a run period
// ("..._Run2016B...") are data.
func (f *FileLookup) IsData(_ context.Context, nick string) (bool, error) {
	if d, ok := f.datasets[nick]; ok && d.Data != nil {
		return *d.Data, nil
	}
	return IsRunPeriod(nick), nil
}

// IsRunPeriod tells whether a nickname names a data taking period.
func IsRunPeriod(nick string) bool {
	return strings.Contains(nick, "Run20")
}
