package postproc

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/opst/anawrap/pkg/nickname"
	"github.com/opst/anawrap/pkg/runner"
)

// Plan is a set of merge tasks with the scratch space they write to.
type Plan struct {
	Tasks []Task

	// Outputs maps nicknames to where their merged file ends up.
	Outputs map[string]string

	dir string
}

// Close removes the scratch space.
func (p *Plan) Close() error {
	if p == nil || p.dir == "" {
		return nil
	}
	return os.RemoveAll(p.dir)
}

// MergePlan plans merging of outputDir, which has one directory of ROOT files
// per nickname.
//
// Each nickname gets a task running "hadd -f" over its files, plus the
// merged file of the same nickname in previous, if any. When dest is empty,
// merged files go to "merged/<nick>.root" next to outputDir. Otherwise they
// are merged into a scratch directory and copied to "<dest>/<nick>.root" with
// gfal-copy.
func MergePlan(outputDir string, dest string, previous string) (*Plan, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Outputs: map[string]string{}}
	mergedDir := filepath.Join(filepath.Dir(filepath.Clean(outputDir)), "merged")
	if dest != "" {
		dir, err := os.MkdirTemp("", "anawrap_merge_")
		if err != nil {
			return nil, err
		}
		plan.dir = dir
		mergedDir = dir
	} else if err := os.MkdirAll(mergedDir, os.FileMode(0755)); err != nil {
		return nil, err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		nickDir := filepath.Join(outputDir, e.Name())
		nick := nickname.FromOutputDir(nickDir)

		inputs, err := doublestar.FilepathGlob(filepath.Join(nickDir, "*.root"))
		if err != nil {
			plan.Close()
			return nil, err
		}
		if len(inputs) == 0 {
			continue
		}
		slices.Sort(inputs)
		if previous != "" {
			if p := filepath.Join(previous, nick+".root"); isFile(p) {
				inputs = append(inputs, p)
			}
		}

		merged := filepath.Join(mergedDir, nick+".root")
		task := Task{
			Name: nick,
			Commands: []runner.Command{
				{Path: "hadd", Args: append([]string{"-f", merged}, inputs...)},
			},
		}
		plan.Outputs[nick] = merged

		if dest != "" {
			abs, err := filepath.Abs(merged)
			if err != nil {
				plan.Close()
				return nil, err
			}
			target := strings.TrimRight(dest, "/") + "/" + nick + ".root"
			task.Commands = append(task.Commands, runner.Command{
				Path: "gfal-copy", Args: []string{"-f", "file://" + abs, target},
			})
			plan.Outputs[nick] = target
		}
		plan.Tasks = append(plan.Tasks, task)
	}

	if len(plan.Tasks) == 0 {
		plan.Close()
		return nil, fmt.Errorf("no outputs to merge in %s", outputDir)
	}
	return plan, nil
}

func isFile(path string) bool {
	s, err := os.Stat(path)
	return err == nil && !s.IsDir()
}
