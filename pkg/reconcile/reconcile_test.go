package reconcile_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/anawrap/pkg/dbs"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/reconcile"
)

type job struct {
	status string
	files  []string // nil means no gc.stdout
}

func layout(t *testing.T, jobs map[string]job) string {
	t.Helper()
	workdir := filepath.Join(t.TempDir(), "workdir")
	for name, j := range jobs {
		rec := filepath.Join(workdir, "jobs", name+".txt")
		write(t, rec, "id=\"1\"\nstatus=\""+j.status+"\"\nattempt=\"1\"\n")
		if j.files == nil {
			continue
		}
		quoted := []string{}
		for _, f := range j.files {
			quoted = append(quoted, `\"`+f+`\"`)
		}
		stdout := filepath.Join(workdir, "output", name, "gc.stdout")
		write(t, stdout, "some log\nexport FILE_NAMES=\""+strings.Join(quoted, ", ")+"\"\nmore log\n")
	}
	return workdir
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), os.FileMode(0755)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), os.FileMode(0644)); err != nil {
		t.Fatal(err)
	}
}

func TestFilter(t *testing.T) {
	theory := func(groups *dbs.Manifest, jobs map[string]job, expected map[string][]string) func(*testing.T) {
		return func(t *testing.T) {
			before := groups.Groups()
			workdir := layout(t, jobs)

			actual := reconcile.Filter(groups, workdir, logger.Null())
			if diff := cmp.Diff(expected, actual.Groups()); diff != "" {
				t.Errorf("filtered (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(before, groups.Groups()); diff != "" {
				t.Errorf("input is modified (-before +after):\n%s", diff)
			}
		}
	}

	t.Run("when a succeeded job consumed files, they are removed", theory(
		dbs.New().
			Add("A", "kappa_A_1.root", "1").
			Add("A", "kappa_A_2.root", "1").
			Add("A", "kappa_A_3.root", "1"),
		map[string]job{
			"job_0": {status: "SUCCESS", files: []string{"kappa_A_1.root", "kappa_A_2.root"}},
		},
		map[string][]string{"A": {"kappa_A_3.root"}},
	))

	t.Run("when a job failed, its files stay", theory(
		dbs.New().Add("A", "kappa_A_1.root", "1"),
		map[string]job{
			"job_0": {status: "FAILED", files: []string{"kappa_A_1.root"}},
		},
		map[string][]string{"A": {"kappa_A_1.root"}},
	))

	t.Run("when a succeeded job has no log, it is skipped", theory(
		dbs.New().Add("A", "kappa_A_1.root", "1"),
		map[string]job{
			"job_0": {status: "SUCCESS"},
		},
		map[string][]string{"A": {"kappa_A_1.root"}},
	))

	t.Run("when no nickname matches the first file, the job is skipped", theory(
		dbs.New().Add("A", "kappa_A_1.root", "1"),
		map[string]job{
			"job_0": {status: "SUCCESS", files: []string{"kappa_Z_1.root", "kappa_A_1.root"}},
		},
		map[string][]string{"A": {"kappa_A_1.root"}},
	))

	t.Run("when several jobs succeeded, each is subtracted from its nickname", theory(
		dbs.New().
			Add("A", "kappa_A_1.root", "1").
			Add("A", "kappa_A_2.root", "1").
			Add("B", "kappa_B_1.root", "1").
			Add("B", "kappa_B_2.root", "1"),
		map[string]job{
			"job_0": {status: "SUCCESS", files: []string{"kappa_A_2.root"}},
			"job_1": {status: "SUCCESS", files: []string{"kappa_B_1.root", "kappa_B_2.root", "kappa_B_9.root"}},
			"job_2": {status: "RUNNING"},
		},
		map[string][]string{"A": {"kappa_A_1.root"}, "B": {}},
	))

	t.Run("when files are not named kappa_*, they are reconciled by nickname alike", theory(
		dbs.New().
			Add("A", "/store/skim_A_1.root", "1").
			Add("A", "/store/skim_A_2.root", "1").
			Add("A", "/store/skim_A_3.root", "1"),
		map[string]job{
			"job_0": {status: "SUCCESS", files: []string{"/store/skim_A_1.root", "/store/skim_A_2.root"}},
		},
		map[string][]string{"A": {"/store/skim_A_3.root"}},
	))

	t.Run("when there is no workdir, nothing changes", func(t *testing.T) {
		groups := dbs.New().Add("A", "kappa_A_1.root", "1")
		actual := reconcile.Filter(groups, filepath.Join(t.TempDir(), "none"), logger.Null())
		if !actual.Equal(groups) {
			t.Errorf("unexpected: %v", actual.Groups())
		}
	})
}

func TestFilter_ManyFiles(t *testing.T) {
	const n = 50000
	b := new(dbs.Builder)
	consumed := []string{}
	for i := range n {
		f := fmt.Sprintf("/store/kappa_A_%d.root", i)
		b.Add("A", f, "1")
		if i%2 == 0 {
			consumed = append(consumed, f)
		}
	}
	groups := b.Build()
	workdir := layout(t, map[string]job{
		"job_0": {status: "SUCCESS", files: consumed},
	})

	start := time.Now()
	actual := reconcile.Filter(groups, workdir, logger.Null())
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("filtering %d files took %s", n, elapsed)
	}
	if actual.Len() != n/2 {
		t.Errorf("remaining: %d, expected %d", actual.Len(), n/2)
	}
	if files := actual.Files(); files[0] != "/store/kappa_A_1.root" {
		t.Errorf("first remaining: %s", files[0])
	}
}

func TestFilter_MalformedRecord(t *testing.T) {
	workdir := filepath.Join(t.TempDir(), "workdir")
	write(t, filepath.Join(workdir, "jobs", "job_0.txt"), "garbage line\nstatus=\"SUCCESS\"\n")
	write(t, filepath.Join(workdir, "output", "job_0", "gc.stdout"), "export FILE_NAMES=\"kappa_A_1.root\"\n")

	buf := new(bytes.Buffer)
	actual := reconcile.Filter(
		dbs.New().Add("A", "kappa_A_1.root", "1").Add("A", "kappa_A_2.root", "1"),
		workdir, log.New(buf, "", 0),
	)

	if diff := cmp.Diff([]string{"kappa_A_2.root"}, actual.Files()); diff != "" {
		t.Errorf("filtered (-want +got):\n%s", diff)
	}
	if !strings.Contains(buf.String(), "malformed") {
		t.Errorf("malformed line is not logged: %q", buf.String())
	}
}

func TestSummarize(t *testing.T) {
	workdir := layout(t, map[string]job{
		"job_0": {status: "SUCCESS", files: []string{"kappa_A_1.root", "kappa_A_2.root"}},
		"job_1": {status: "FAILED", files: []string{"kappa_A_3.root"}},
	})
	groups := dbs.New().
		Add("A", "kappa_A_1.root", "1").
		Add("A", "kappa_A_2.root", "1").
		Add("A", "kappa_A_3.root", "1")

	actual := reconcile.Summarize(groups, workdir, logger.Null())
	if actual.Jobs != 2 || actual.Succeeded != 1 {
		t.Errorf("jobs = %d, succeeded = %d", actual.Jobs, actual.Succeeded)
	}
	if diff := cmp.Diff(map[string]int{"A": 2}, actual.Processed); diff != "" {
		t.Errorf("processed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"kappa_A_3.root"}, actual.Pending.Files()); diff != "" {
		t.Errorf("pending (-want +got):\n%s", diff)
	}
}

func TestDBSFilter(t *testing.T) {
	dir := t.TempDir()
	dbsPath := filepath.Join(dir, "datasets.dbs")
	if reconcile.ForDBS(dbsPath) != filepath.Join(dir, "workdir") {
		t.Errorf("ForDBS = %s", reconcile.ForDBS(dbsPath))
	}

	write(t, filepath.Join(dir, "workdir", "jobs", "job_0.txt"), "status=\"SUCCESS\"\n")
	write(t, filepath.Join(dir, "workdir", "output", "job_0", "gc.stdout"), "export FILE_NAMES=\"kappa_A_1.root\"\n")

	actual := reconcile.DBSFilter(logger.Null())(
		dbsPath, dbs.New().Add("A", "kappa_A_1.root", "1").Add("A", "kappa_A_2.root", "1"),
	)
	if diff := cmp.Diff([]string{"kappa_A_2.root"}, actual.Files()); diff != "" {
		t.Errorf("filtered (-want +got):\n%s", diff)
	}
}

func TestWatch(t *testing.T) {
	reconcile.QuietPeriod = 50 * time.Millisecond
	workdir := filepath.Join(t.TempDir(), "workdir")
	write(t, filepath.Join(workdir, "jobs", "job_0.txt"), "status=\"RUNNING\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := atomic.Int32{}
	done := make(chan error, 1)
	go func() {
		done <- reconcile.Watch(ctx, workdir, func() { calls.Add(1) })
	}()

	waitFor := func(n int32) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for calls.Load() < n {
			select {
			case <-deadline:
				t.Fatalf("callback is called %d times, expected %d", calls.Load(), n)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	waitFor(1)
	write(t, filepath.Join(workdir, "jobs", "job_0.txt"), "status=\"SUCCESS\"\n")
	waitFor(2)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWatch_JobsDirectoryGone(t *testing.T) {
	reconcile.QuietPeriod = 50 * time.Millisecond
	workdir := filepath.Join(t.TempDir(), "workdir")
	if err := os.MkdirAll(workdir, os.FileMode(0755)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := true
	err := reconcile.Watch(ctx, workdir, func() {
		if !first {
			return
		}
		first = false
		// jobs/ appears and vanishes before it can be watched.
		jobs := filepath.Join(workdir, "jobs")
		if err := os.Mkdir(jobs, os.FileMode(0755)); err != nil {
			t.Error(err)
		}
		if err := os.Remove(jobs); err != nil {
			t.Error(err)
		}
	})
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected an error watching jobs/, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "jobs") {
		t.Errorf("error does not tell the directory: %v", err)
	}
}
