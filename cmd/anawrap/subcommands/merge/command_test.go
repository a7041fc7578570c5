package merge_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/opst/anawrap/cmd/anawrap/subcommands/internal/commandline"
	"github.com/opst/anawrap/cmd/anawrap/subcommands/merge"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/runner"
	"github.com/opst/anawrap/pkg/runner/mock"
	"github.com/opst/anawrap/pkg/settings"
	"github.com/youta-t/flarc"
)

func outputs(t *testing.T) string {
	dir := filepath.Join(t.TempDir(), "output")
	for _, f := range []string{"DY/kappa_DY_1.root", "DY/kappa_DY_2.root", "TT/kappa_TT_1.root"} {
		p := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(p), os.FileMode(0755)); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, nil, os.FileMode(0644)); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestTask(t *testing.T) {
	t.Run("when outputs are merged, it prints merged files per nickname", func(t *testing.T) {
		dir := outputs(t)
		cmdr := mock.New(t)
		option := merge.WithCommander(cmdr)(&merge.Option{})

		cl, stdout, _ := commandline.New(
			"anawrap merge", merge.Flag{Parallel: 2, NoProgress: true},
			map[string][]string{merge.ARG_OUTPUT_DIR: {dir}},
		)
		if err := merge.Task(option)(context.Background(), logger.Null(), settings.Default(), cl, []any{}); err != nil {
			t.Fatal(err)
		}

		merged := filepath.Join(filepath.Dir(dir), "merged")
		lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
		expected := []string{
			"DY\t" + filepath.Join(merged, "DY.root"),
			"TT\t" + filepath.Join(merged, "TT.root"),
		}
		if !slices.Equal(lines, expected) {
			t.Errorf("output: %q", lines)
		}
		if n := len(cmdr.Calls()); n != 2 {
			t.Errorf("commands: %v", cmdr.Lines())
		}
	})

	t.Run("when a merge fails, others are still reported and it fails", func(t *testing.T) {
		dir := outputs(t)
		cmdr := mock.New(t)
		cmdr.Impl.Run = func(_ context.Context, c runner.Command) (int, error) {
			if slices.ContainsFunc(c.Args, func(a string) bool { return strings.HasSuffix(a, "TT.root") }) {
				return 1, nil
			}
			return 0, nil
		}
		option := merge.WithCommander(cmdr)(&merge.Option{})

		cl, stdout, _ := commandline.New(
			"anawrap merge", merge.Flag{Parallel: 1, NoProgress: true},
			map[string][]string{merge.ARG_OUTPUT_DIR: {dir}},
		)
		err := merge.Task(option)(context.Background(), logger.Null(), settings.Default(), cl, []any{})
		if err == nil {
			t.Error("no error")
		}
		if !strings.HasPrefix(stdout.String(), "DY\t") || strings.Contains(stdout.String(), "TT\t") {
			t.Errorf("output: %q", stdout.String())
		}
	})

	t.Run("when no-run is given, it prints commands only", func(t *testing.T) {
		dir := outputs(t)
		cmdr := mock.New(t)
		option := merge.WithCommander(cmdr)(&merge.Option{})

		cl, stdout, _ := commandline.New(
			"anawrap merge", merge.Flag{Parallel: 1, NoRun: true, Dest: "root://se.example//store/merged"},
			map[string][]string{merge.ARG_OUTPUT_DIR: {dir}},
		)
		if err := merge.Task(option)(context.Background(), logger.Null(), settings.Default(), cl, []any{}); err != nil {
			t.Fatal(err)
		}
		if len(cmdr.Calls()) != 0 {
			t.Errorf("commands: %v", cmdr.Lines())
		}
		for _, want := range []string{"# DY", "hadd -f", "gfal-copy -f file://", "root://se.example//store/merged/TT.root"} {
			if !strings.Contains(stdout.String(), want) {
				t.Errorf("output does not contain %q:\n%s", want, stdout.String())
			}
		}
	})

	t.Run("when parallelism is not positive, it is a usage error", func(t *testing.T) {
		cl, _, _ := commandline.New(
			"anawrap merge", merge.Flag{Parallel: 0},
			map[string][]string{merge.ARG_OUTPUT_DIR: {t.TempDir()}},
		)
		err := merge.Task(&merge.Option{})(context.Background(), logger.Null(), settings.Default(), cl, []any{})
		if !errors.Is(err, flarc.ErrUsage) {
			t.Errorf("err: %v", err)
		}
	})
}
