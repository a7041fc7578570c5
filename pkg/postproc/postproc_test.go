package postproc_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/postproc"
	"github.com/opst/anawrap/pkg/runner"
	"github.com/opst/anawrap/pkg/runner/mock"
)

func task(name string, cmds ...string) postproc.Task {
	t := postproc.Task{Name: name}
	for _, c := range cmds {
		t.Commands = append(t.Commands, runner.Command{Path: c})
	}
	return t
}

func TestPool(t *testing.T) {
	t.Run("when a task fails, the others still run and results keep task order", func(t *testing.T) {
		cmdr := mock.New(t)
		cmdr.Impl.Run = func(_ context.Context, c runner.Command) (int, error) {
			if c.Path == "fail" {
				return 2, nil
			}
			return 0, nil
		}
		progress := new(bytes.Buffer)
		testee := postproc.Pool{Commander: cmdr, Parallelism: 2, Progress: progress, Logger: logger.Null()}

		results, err := testee.Run(context.Background(), []postproc.Task{
			task("a", "ok"),
			task("b", "fail", "never"),
			task("c", "ok", "ok"),
		})
		if err == nil || !strings.Contains(err.Error(), "b: fail exited with code 2") {
			t.Errorf("unexpected error: %v", err)
		}

		names := []string{}
		codes := []int{}
		for _, r := range results {
			names = append(names, r.Task)
			codes = append(codes, r.Code)
		}
		if diff := cmp.Diff([]string{"a", "b", "c"}, names); diff != "" {
			t.Errorf("tasks (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int{0, 2, 0}, codes); diff != "" {
			t.Errorf("codes (-want +got):\n%s", diff)
		}

		lines := cmdr.Lines()
		slices.Sort(lines)
		if diff := cmp.Diff([]string{"fail", "ok", "ok", "ok"}, lines); diff != "" {
			t.Errorf("commands (-want +got):\n%s", diff)
		}
		if progress.Len() == 0 {
			t.Error("no progress is shown")
		}
	})

	t.Run("it runs no more tasks at once than Parallelism", func(t *testing.T) {
		var running, peak atomic.Int32
		cmdr := mock.New(t)
		cmdr.Impl.Run = func(context.Context, runner.Command) (int, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return 0, nil
		}
		testee := postproc.Pool{Commander: cmdr, Parallelism: 2, Logger: logger.Null()}

		tasks := []postproc.Task{}
		for range 8 {
			tasks = append(tasks, task("t", "ok"))
		}
		if _, err := testee.Run(context.Background(), tasks); err != nil {
			t.Fatal(err)
		}
		if p := peak.Load(); p > 2 {
			t.Errorf("%d tasks ran at once", p)
		}
	})

	t.Run("when context is canceled, tasks fail without running", func(t *testing.T) {
		cmdr := mock.New(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results, err := postproc.Pool{Commander: cmdr, Logger: logger.Null()}.Run(ctx, []postproc.Task{task("a", "ok")})
		if err == nil || results[0].Err == nil {
			t.Errorf("expected error: %v", results)
		}
		if len(cmdr.Calls()) != 0 {
			t.Errorf("commands are run: %v", cmdr.Lines())
		}
	})
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), os.FileMode(0755)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, os.FileMode(0644)); err != nil {
		t.Fatal(err)
	}
}

func TestMergePlan(t *testing.T) {
	setup := func(t *testing.T) (string, string) {
		root := t.TempDir()
		output := filepath.Join(root, "output")
		touch(t, filepath.Join(output, "DY", "DY_job_2_output.root"))
		touch(t, filepath.Join(output, "DY", "DY_job_1_output.root"))
		touch(t, filepath.Join(output, "TT", "TT_job_1_output.root"))
		touch(t, filepath.Join(output, "empty", "log.txt"))
		previous := filepath.Join(root, "previous")
		touch(t, filepath.Join(previous, "TT.root"))
		return root, output
	}

	t.Run("when there is no destination, merged files stay local", func(t *testing.T) {
		root, output := setup(t)
		plan, err := postproc.MergePlan(output, "", filepath.Join(root, "previous"))
		if err != nil {
			t.Fatal(err)
		}
		defer plan.Close()

		merged := filepath.Join(root, "merged")
		actual := []string{}
		for _, task := range plan.Tasks {
			for _, c := range task.Commands {
				actual = append(actual, c.String())
			}
		}
		expected := []string{
			"hadd -f " + filepath.Join(merged, "DY.root") + " " +
				filepath.Join(output, "DY", "DY_job_1_output.root") + " " +
				filepath.Join(output, "DY", "DY_job_2_output.root"),
			"hadd -f " + filepath.Join(merged, "TT.root") + " " +
				filepath.Join(output, "TT", "TT_job_1_output.root") + " " +
				filepath.Join(root, "previous", "TT.root"),
		}
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Errorf("commands (-want +got):\n%s", diff)
		}
		if st, err := os.Stat(merged); err != nil || !st.IsDir() {
			t.Errorf("merged directory: %v", err)
		}
	})

	t.Run("when there is a destination, merged files are copied there", func(t *testing.T) {
		_, output := setup(t)
		plan, err := postproc.MergePlan(output, "srm://se//store/merged/", "")
		if err != nil {
			t.Fatal(err)
		}

		if len(plan.Tasks) != 2 {
			t.Fatalf("tasks: %v", plan.Tasks)
		}
		dy := plan.Tasks[0]
		if len(dy.Commands) != 2 {
			t.Fatalf("commands: %v", dy.Commands)
		}
		tmp := dy.Commands[0].Args[1]
		if diff := cmp.Diff(
			[]string{"-f", "file://" + tmp, "srm://se//store/merged/DY.root"}, dy.Commands[1].Args,
		); diff != "" {
			t.Errorf("copy (-want +got):\n%s", diff)
		}
		if plan.Outputs["DY"] != "srm://se//store/merged/DY.root" {
			t.Errorf("outputs: %v", plan.Outputs)
		}

		scratch := filepath.Dir(tmp)
		if _, err := os.Stat(scratch); err != nil {
			t.Fatalf("scratch directory: %v", err)
		}
		if err := plan.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(scratch); !os.IsNotExist(err) {
			t.Errorf("scratch directory is left: %v", err)
		}
	})

	t.Run("when nothing can be merged, it is an error", func(t *testing.T) {
		if _, err := postproc.MergePlan(t.TempDir(), "", ""); err == nil {
			t.Error("expected error")
		}
	})
}
