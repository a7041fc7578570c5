package status_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/anawrap/cmd/anawrap/subcommands/internal/commandline"
	"github.com/opst/anawrap/cmd/anawrap/subcommands/status"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/settings"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), os.FileMode(0755)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), os.FileMode(0644)); err != nil {
		t.Fatal(err)
	}
}

func project(t *testing.T) string {
	dir := t.TempDir()
	dbsPath := filepath.Join(dir, "datasets.dbs")
	write(t, dbsPath, "[A]\nkappa_A_1.root = 1\nkappa_A_2.root = 1\n\n[Bee]\nkappa_Bee_1.root = 1\n")
	write(t, filepath.Join(dir, "workdir", "jobs", "job_0.txt"), "status=\"SUCCESS\"\n")
	write(t, filepath.Join(dir, "workdir", "output", "job_0", "gc.stdout"), "export FILE_NAMES=\"kappa_A_1.root\"\n")
	write(t, filepath.Join(dir, "workdir", "jobs", "job_1.txt"), "status=\"FAILED\"\n")
	return dbsPath
}

func TestTask(t *testing.T) {
	theory := func(flags status.Flag, expected string) func(*testing.T) {
		return func(t *testing.T) {
			dbsPath := project(t)
			cl, stdout, _ := commandline.New(
				"anawrap status", flags,
				map[string][]string{status.ARG_DBS: {dbsPath}},
			)
			if err := status.Task()(context.Background(), logger.Null(), settings.Default(), cl, []any{}); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(expected, stdout.String()); diff != "" {
				t.Errorf("output (-want +got):\n%s", diff)
			}
		}
	}

	t.Run("when it is asked, it prints the summary per nickname", theory(
		status.Flag{},
		"jobs: 2 (succeeded: 1)\n"+
			"A    processed: 1, pending: 1\n"+
			"Bee  processed: 0, pending: 1\n",
	))

	t.Run("when pending files are asked, it prints them as a manifest", theory(
		status.Flag{Pending: true},
		"jobs: 2 (succeeded: 1)\n"+
			"A    processed: 1, pending: 1\n"+
			"Bee  processed: 0, pending: 1\n"+
			"\n"+
			"[A]\nkappa_A_2.root = 1\n\n[Bee]\nkappa_Bee_1.root = 1\n",
	))

	t.Run("when the work directory is elsewhere, nothing is processed", func(t *testing.T) {
		dbsPath := project(t)
		cl, stdout, _ := commandline.New(
			"anawrap status", status.Flag{Workdir: t.TempDir()},
			map[string][]string{status.ARG_DBS: {dbsPath}},
		)
		if err := status.Task()(context.Background(), logger.Null(), settings.Default(), cl, []any{}); err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(stdout.String(), "jobs: 0 (succeeded: 0)\n") {
			t.Errorf("output: %q", stdout.String())
		}
	})

	t.Run("when the dbs file is missing, it fails", func(t *testing.T) {
		cl, _, _ := commandline.New(
			"anawrap status", status.Flag{},
			map[string][]string{status.ARG_DBS: {filepath.Join(t.TempDir(), "missing.dbs")}},
		)
		if err := status.Task()(context.Background(), logger.Null(), settings.Default(), cl, []any{}); err == nil {
			t.Error("no error")
		}
	})
}
