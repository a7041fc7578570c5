package kube_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/anawrap/pkg/dbs"
	"github.com/opst/anawrap/pkg/flagtype"
	"github.com/opst/anawrap/pkg/kube"
	"github.com/opst/anawrap/pkg/kube/mock"
	"github.com/opst/anawrap/pkg/logger"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func manifest(nick string, n int) *dbs.Manifest {
	m := dbs.New()
	for i := range n {
		m = m.Add(nick, "/store/kappa_"+nick+"_"+string(rune('a'+i))+".root", "1")
	}
	return m
}

func TestPartition(t *testing.T) {
	type When struct {
		groups      *dbs.Manifest
		filesPerJob int
		pilot       int
	}
	theory := func(when When, then []int) func(*testing.T) {
		return func(t *testing.T) {
			actual := kube.Partition(when.groups, when.filesPerJob, when.pilot)
			sizes := []int{}
			for _, g := range actual {
				sizes = append(sizes, len(g.Files))
			}
			if diff := cmp.Diff(then, sizes); diff != "" {
				t.Errorf("group sizes (-want +got):\n%s", diff)
			}

			seen := map[string]bool{}
			for _, g := range actual {
				for _, f := range g.Files {
					if seen[f] {
						t.Errorf("%s is in two groups", f)
					}
					seen[f] = true
				}
			}
		}
	}

	t.Run("when files divide evenly, each job has filesPerJob files", theory(
		When{groups: manifest("DY", 6), filesPerJob: 3}, []int{3, 3},
	))
	t.Run("when files do not divide evenly, the last job has the rest", theory(
		When{groups: manifest("DY", 7), filesPerJob: 3}, []int{3, 3, 1},
	))
	t.Run("nicknames are partitioned separately", theory(
		When{groups: manifest("DY", 2).Extend(manifest("TT", 3)), filesPerJob: 2}, []int{2, 2, 1},
	))
	t.Run("when pilot is set, only pilot files per nickname are used", theory(
		When{groups: manifest("DY", 7).Extend(manifest("TT", 1)), filesPerJob: 3, pilot: 2}, []int{2, 1},
	))
	t.Run("when filesPerJob is not positive, it is 1", theory(
		When{groups: manifest("DY", 2), filesPerJob: 0}, []int{1, 1},
	))
}

func TestBuildJob(t *testing.T) {
	g := kube.JobGroup{Nickname: "DYJetsToLL_M50", Index: 2, Files: []string{"/a.root", "/b.root"}}
	spec := kube.JobSpec{
		Project:  "HTT Analysis",
		Image:    "registry.example/anawrap:1",
		Analysis: "SM",
		LogLevel: "debug",
		WallTime: flagtype.MustParseWallTime("02:00:00"),
		Memory:   flagtype.MustParse("3000"),
	}

	job := kube.BuildJob(g, spec)

	if job.Name != "htt-analysis-dyjetstoll-m50-2" {
		t.Errorf("name: %s", job.Name)
	}
	if job.Labels[kube.LabelNickname] != "dyjetstoll-m50" {
		t.Errorf("labels: %v", job.Labels)
	}
	if d := job.Spec.ActiveDeadlineSeconds; d == nil || *d != 7200 {
		t.Errorf("deadline: %v", d)
	}
	if job.Spec.Template.Spec.RestartPolicy != kubecore.RestartPolicyNever {
		t.Errorf("restart policy: %s", job.Spec.Template.Spec.RestartPolicy)
	}

	c := job.Spec.Template.Spec.Containers[0]
	if c.Image != spec.Image {
		t.Errorf("image: %s", c.Image)
	}
	if diff := cmp.Diff(
		[]string{
			"anawrap", "run", "-a", "SM", "--disable-repo-versions", "--log-level", "debug",
			"--nick", "DYJetsToLL_M50", "-i", "/a.root", "/b.root",
		},
		c.Command,
	); diff != "" {
		t.Errorf("command (-want +got):\n%s", diff)
	}
	mem := c.Resources.Limits[kubecore.ResourceMemory]
	if !mem.Equal(resource.MustParse("3000M")) {
		t.Errorf("memory limit: %s", mem.String())
	}

	t.Run("when no limits are given, the job is unbounded", func(t *testing.T) {
		job := kube.BuildJob(g, kube.JobSpec{Project: "p"})
		if job.Spec.ActiveDeadlineSeconds != nil {
			t.Errorf("deadline: %d", *job.Spec.ActiveDeadlineSeconds)
		}
		if len(job.Spec.Template.Spec.Containers[0].Resources.Limits) != 0 {
			t.Errorf("limits: %v", job.Spec.Template.Spec.Containers[0].Resources.Limits)
		}
	})
}

func TestJobName(t *testing.T) {
	long := ""
	for range 10 {
		long += "VeryLongNickname"
	}
	name := kube.JobName("project", kube.JobGroup{Nickname: long, Index: 12})
	if len(name) > 63 {
		t.Errorf("name is too long: %d", len(name))
	}
	if name[len(name)-3:] != "-12" {
		t.Errorf("index is lost: %s", name)
	}

	t.Run("when a name fits, it is the project, the nickname and the index", func(t *testing.T) {
		name := kube.JobName("2024-05-06_07-08_htt", kube.JobGroup{Nickname: "SingleMuon_Run2016B", Index: 0})
		if name != "2024-05-06-07-08-htt-singlemuon-run2016b-0" {
			t.Errorf("unexpected name: %s", name)
		}
	})

	t.Run("when long nicknames share a prefix, their names differ", func(t *testing.T) {
		project := "2026-10-19_12-00_analysis"
		base := "DYJetsToLLM50_RunIISummer16MiniAODv2_PUMoriond17_13TeV_madgraph-pythia8"
		groups := kube.Partition(
			dbs.New().
				Add(base+"_v1", "/store/kappa_"+base+"_v1_1.root", "1").
				Add(base+"_ext1", "/store/kappa_"+base+"_ext1_1.root", "1"),
			10, 0,
		)
		if len(groups) != 2 {
			t.Fatalf("groups: %d", len(groups))
		}
		a := kube.JobName(project, groups[0])
		b := kube.JobName(project, groups[1])
		if a == b {
			t.Errorf("distinct nicknames share job name %s", a)
		}
		for _, n := range []string{a, b} {
			if len(n) > 63 {
				t.Errorf("name is too long: %s", n)
			}
			if n[len(n)-2:] != "-0" {
				t.Errorf("index is lost: %s", n)
			}
		}
		if again := kube.JobName(project, groups[0]); again != a {
			t.Errorf("name is not stable: %s != %s", again, a)
		}
	})
}

var jobsResource = schema.GroupResource{Group: "batch", Resource: "jobs"}

func noWait() kube.Backoff {
	return func(ctx context.Context) error { return ctx.Err() }
}

func jobs(names ...string) []*kubebatch.Job {
	ret := []*kubebatch.Job{}
	for _, n := range names {
		j := &kubebatch.Job{}
		j.Name = n
		ret = append(ret, j)
	}
	return ret
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("when the API is healthy, every job is created", func(t *testing.T) {
		client := mock.New(t)
		client.Impl.CreateJob = func(_ context.Context, ns string, j *kubebatch.Job) (*kubebatch.Job, error) {
			if ns != "analysis" {
				t.Errorf("namespace: %s", ns)
			}
			return j, nil
		}
		testee := kube.Submitter{Client: client, Namespace: "analysis", Logger: logger.Null(), Backoff: noWait}

		created, err := testee.Submit(ctx, jobs("a", "b"))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"a", "b"}, created); diff != "" {
			t.Errorf("created (-want +got):\n%s", diff)
		}
	})

	t.Run("when the API fails transiently, it retries", func(t *testing.T) {
		client := mock.New(t)
		calls := 0
		client.Impl.CreateJob = func(_ context.Context, _ string, j *kubebatch.Job) (*kubebatch.Job, error) {
			calls++
			if calls < 3 {
				return nil, kubeerr.NewServiceUnavailable("busy")
			}
			return j, nil
		}
		testee := kube.Submitter{Client: client, Logger: logger.Null(), Backoff: noWait}

		created, err := testee.Submit(ctx, jobs("a"))
		if err != nil {
			t.Fatal(err)
		}
		if calls != 3 || len(created) != 1 {
			t.Errorf("calls = %d, created = %v", calls, created)
		}
	})

	t.Run("when a job exists, it is left and reported", func(t *testing.T) {
		client := mock.New(t)
		client.Impl.CreateJob = func(_ context.Context, _ string, j *kubebatch.Job) (*kubebatch.Job, error) {
			if j.Name == "a" {
				return nil, kubeerr.NewAlreadyExists(jobsResource, "a")
			}
			return j, nil
		}
		client.Impl.GetJob = func(context.Context, string, string) (*kubebatch.Job, error) {
			j := &kubebatch.Job{}
			j.Status.Active = 1
			return j, nil
		}
		testee := kube.Submitter{Client: client, Logger: logger.Null(), Backoff: noWait}

		created, err := testee.Submit(ctx, jobs("a", "b"))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"b"}, created); diff != "" {
			t.Errorf("created (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"a"}, client.Calls.GetJob); diff != "" {
			t.Errorf("GetJob (-want +got):\n%s", diff)
		}
	})

	t.Run("when a job cannot be created, created ones are deleted", func(t *testing.T) {
		client := mock.New(t)
		forbidden := kubeerr.NewForbidden(jobsResource, "c", errors.New("quota"))
		client.Impl.CreateJob = func(_ context.Context, _ string, j *kubebatch.Job) (*kubebatch.Job, error) {
			if j.Name == "c" {
				return nil, forbidden
			}
			return j, nil
		}
		client.Impl.DeleteJob = func(context.Context, string, string) error { return nil }
		testee := kube.Submitter{Client: client, Logger: logger.Null(), Backoff: noWait}

		_, err := testee.Submit(ctx, jobs("a", "b", "c"))
		if !kubeerr.IsForbidden(err) {
			t.Errorf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"a", "b"}, client.Calls.DeleteJob); diff != "" {
			t.Errorf("deleted (-want +got):\n%s", diff)
		}
	})

	t.Run("when retries are exhausted, it gives up", func(t *testing.T) {
		client := mock.New(t)
		client.Impl.CreateJob = func(context.Context, string, *kubebatch.Job) (*kubebatch.Job, error) {
			return nil, kubeerr.NewTooManyRequests("slow down", 1)
		}
		testee := kube.Submitter{Client: client, Logger: logger.Null(), Backoff: noWait, Attempts: 2}

		if _, err := testee.Submit(ctx, jobs("a")); err == nil {
			t.Error("expected error")
		}
		if n := len(client.Calls.CreateJob); n != 2 {
			t.Errorf("CreateJob is called %d times", n)
		}
	})
}

func TestStatusOf(t *testing.T) {
	complete := &kubebatch.Job{}
	complete.Status.Conditions = []kubebatch.JobCondition{
		{Type: kubebatch.JobComplete, Status: kubecore.ConditionTrue},
	}
	failed := &kubebatch.Job{}
	failed.Status.Conditions = []kubebatch.JobCondition{
		{Type: kubebatch.JobComplete, Status: kubecore.ConditionFalse},
		{Type: kubebatch.JobFailed, Status: kubecore.ConditionTrue},
	}
	running := &kubebatch.Job{}
	running.Status.Active = 1

	for job, expected := range map[*kubebatch.Job]kube.JobStatus{
		complete:         kube.Succeeded,
		failed:           kube.Failed,
		running:          kube.Running,
		&kubebatch.Job{}: kube.Pending,
	} {
		if actual := kube.StatusOf(job); actual != expected {
			t.Errorf("expected %s, got %s", expected, actual)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := kube.ExponentialBackoff(time.Millisecond, 2)
	if err := b(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	slow := kube.ExponentialBackoff(time.Hour, 2)
	if err := slow(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error: %v", err)
	}
}
