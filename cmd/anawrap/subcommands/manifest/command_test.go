package manifest_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/anawrap/cmd/anawrap/subcommands/internal/commandline"
	"github.com/opst/anawrap/cmd/anawrap/subcommands/manifest"
	"github.com/opst/anawrap/pkg/dbs"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/settings"
	"github.com/opst/anawrap/pkg/utils/try"
)

func TestTask(t *testing.T) {
	specs := []string{"/s/kappa_DY_1.root", "/s/kappa_TT_1.root", "/s/kappa_DY_2.root", "/s/other.root"}
	expected := "[DY]\n/s/kappa_DY_1.root = 1\n/s/kappa_DY_2.root = 1\n\n" +
		"[TT]\n/s/kappa_TT_1.root = 1\n\n" +
		"[mixed]\n/s/other.root = 1\n"

	t.Run("when specs are given, it prints them grouped by nickname", func(t *testing.T) {
		cl, stdout, _ := commandline.New(
			"anawrap manifest", manifest.Flag{Nick: "mixed"},
			map[string][]string{manifest.ARG_SPEC: specs},
		)
		if err := manifest.Task()(context.Background(), logger.Null(), settings.Default(), cl, []any{}); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(expected, stdout.String()); diff != "" {
			t.Errorf("manifest (-want +got):\n%s", diff)
		}
	})

	t.Run("when an output file is given, the manifest reads back the same", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "datasets.dbs")
		cl, stdout, _ := commandline.New(
			"anawrap manifest", manifest.Flag{Nick: "mixed", Output: out},
			map[string][]string{manifest.ARG_SPEC: specs},
		)
		if err := manifest.Task()(context.Background(), logger.Null(), settings.Default(), cl, []any{}); err != nil {
			t.Fatal(err)
		}
		if stdout.Len() != 0 {
			t.Errorf("stdout: %q", stdout.String())
		}
		if diff := cmp.Diff(expected, string(try.To(os.ReadFile(out)).OrFatal(t))); diff != "" {
			t.Errorf("manifest (-want +got):\n%s", diff)
		}

		// resolving the written manifest gives it back
		cl, stdout, _ = commandline.New(
			"anawrap manifest", manifest.Flag{Nick: "mixed", NoReconcile: true},
			map[string][]string{manifest.ARG_SPEC: {out}},
		)
		if err := manifest.Task()(context.Background(), logger.Null(), settings.Default(), cl, []any{}); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(expected, stdout.String()); diff != "" {
			t.Errorf("round trip (-want +got):\n%s", diff)
		}
		if m := try.To(dbs.Load(out)).OrFatal(t); m.Len() != 4 {
			t.Errorf("entries: %d", m.Len())
		}
	})
}
