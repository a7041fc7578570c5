package kube

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/opst/anawrap/pkg/dbs"
	"github.com/opst/anawrap/pkg/flagtype"
	"github.com/opst/anawrap/pkg/logger"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	LabelProject  = "anawrap.opst.github.io/project"
	LabelNickname = "anawrap.opst.github.io/nickname"

	container = "analysis"
)

// JobGroup is the files one Job processes.
type JobGroup struct {
	Nickname string
	Index    int
	Files    []string
}

// Partition splits every nickname's files into groups of filesPerJob.
//
// A nickname with n files gets ceil(n/filesPerJob) groups. When pilot is
// positive, only the first pilot files of each nickname are partitioned.
func Partition(groups *dbs.Manifest, filesPerJob int, pilot int) []JobGroup {
	if filesPerJob < 1 {
		filesPerJob = 1
	}
	ret := []JobGroup{}
	for _, nick := range groups.Nicknames() {
		entries := groups.Entries(nick)
		if 0 < pilot && pilot < len(entries) {
			entries = entries[:pilot]
		}
		for i := 0; i*filesPerJob < len(entries); i++ {
			end := min((i+1)*filesPerJob, len(entries))
			files := make([]string, 0, end-i*filesPerJob)
			for _, e := range entries[i*filesPerJob : end] {
				files = append(files, e.File)
			}
			ret = append(ret, JobGroup{Nickname: nick, Index: i, Files: files})
		}
	}
	return ret
}

// JobSpec is what every Job of a submission shares.
type JobSpec struct {
	Project string
	Image   string

	// Executable is the wrapper command in the image.
	Executable string
	Analysis   string
	LogLevel   string
	WallTime   flagtype.WallTime
	Memory     *flagtype.Quantity

	// ExtraArgs are appended to the command line of each Job.
	ExtraArgs []string
}

var reNotInName = regexp.MustCompile(`[^-a-z0-9]+`)

// dnsLabel lowercases s and drops what cannot be in a DNS label.
func dnsLabel(s string, limit int) string {
	s = reNotInName.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if len(s) > limit {
		s = strings.Trim(s[:limit], "-")
	}
	return s
}

// JobName names the Job of g.
//
// Names longer than a DNS label are cut, and then carry a digest of the
// project and nickname so that different nicknames keep different names.
func JobName(project string, g JobGroup) string {
	suffix := fmt.Sprintf("-%d", g.Index)
	full := dnsLabel(project+"-"+g.Nickname, math.MaxInt)
	if len(full) <= 63-len(suffix) {
		return full + suffix
	}
	sum := sha1.Sum([]byte(project + "/" + g.Nickname))
	suffix = "-" + hex.EncodeToString(sum[:])[:8] + suffix
	return dnsLabel(full, 63-len(suffix)) + suffix
}

// Command is the command line of the Job of g.
func (s JobSpec) Command(g JobGroup) []string {
	exe := s.Executable
	if exe == "" {
		exe = "anawrap"
	}
	cmd := []string{exe, "run"}
	if s.Analysis != "" {
		cmd = append(cmd, "-a", s.Analysis)
	}
	cmd = append(cmd, "--disable-repo-versions")
	if s.LogLevel != "" {
		cmd = append(cmd, "--log-level", s.LogLevel)
	}
	cmd = append(cmd, "--nick", g.Nickname, "-i")
	cmd = append(cmd, g.Files...)
	return append(cmd, s.ExtraArgs...)
}

// BuildJob builds the Job processing g.
func BuildJob(g JobGroup, spec JobSpec) *kubebatch.Job {
	labels := map[string]string{
		LabelProject:  dnsLabel(spec.Project, 63),
		LabelNickname: dnsLabel(g.Nickname, 63),
	}

	resources := kubecore.ResourceRequirements{}
	if spec.Memory != nil && !spec.Memory.AsResourceQuantity().IsZero() {
		mem := spec.Memory.AsResourceQuantity().DeepCopy()
		resources.Requests = kubecore.ResourceList{kubecore.ResourceMemory: mem}
		resources.Limits = kubecore.ResourceList{kubecore.ResourceMemory: mem}
	}

	var deadline *int64
	if sec := spec.WallTime.Seconds(); sec > 0 {
		deadline = &sec
	}
	backoffLimit := int32(0)

	return &kubebatch.Job{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:   JobName(spec.Project, g),
			Labels: labels,
		},
		Spec: kubebatch.JobSpec{
			ActiveDeadlineSeconds: deadline,
			BackoffLimit:          &backoffLimit,
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{Labels: labels},
				Spec: kubecore.PodSpec{
					RestartPolicy: kubecore.RestartPolicyNever,
					Containers: []kubecore.Container{
						{
							Name:      container,
							Image:     spec.Image,
							Command:   spec.Command(g),
							Resources: resources,
						},
					},
				},
			},
		},
	}
}

// transient reports whether a request may succeed when retried.
func transient(err error) bool {
	return kubeerr.IsServerTimeout(err) ||
		kubeerr.IsTimeout(err) ||
		kubeerr.IsTooManyRequests(err) ||
		kubeerr.IsInternalError(err) ||
		kubeerr.IsServiceUnavailable(err)
}

// Submitter creates Jobs.
type Submitter struct {
	Client    Client
	Namespace string
	Logger    *log.Logger

	// Backoff paces retries of transient failures. nil means exponential
	// backoff from 500ms.
	Backoff func() Backoff

	// Attempts bounds calls per Job. 0 means 5.
	Attempts int
}

// Submit creates jobs in order and returns the names of those created.
//
// Transient API errors are retried. A Job which already exists is left as is.
// When a Job cannot be created, Jobs created by this call are deleted and
// the error is returned.
func (s Submitter) Submit(ctx context.Context, jobs []*kubebatch.Job) ([]string, error) {
	l := s.Logger
	if l == nil {
		l = logger.Null()
	}
	backoff := s.Backoff
	if backoff == nil {
		backoff = func() Backoff { return ExponentialBackoff(500*time.Millisecond, 2) }
	}
	attempts := s.Attempts
	if attempts == 0 {
		attempts = 5
	}

	created := []string{}
	for _, job := range jobs {
		_, err := Blocking(ctx, backoff(), attempts, func() (*kubebatch.Job, error) {
			j, err := s.Client.CreateJob(ctx, s.Namespace, job)
			if err != nil && transient(err) {
				l.Printf("creating job %s: %s (retry)", job.Name, err)
				return nil, fmt.Errorf("%w: %w", ErrRetry, err)
			}
			return j, err
		})
		if kubeerr.IsAlreadyExists(err) {
			status := "unknown"
			if existing, err := s.Client.GetJob(ctx, s.Namespace, job.Name); err == nil {
				status = string(StatusOf(existing))
			}
			l.Printf("job %s already exists (%s)", job.Name, status)
			continue
		}
		if err != nil {
			s.rollback(ctx, created, l)
			return nil, fmt.Errorf("creating job %s: %w", job.Name, err)
		}
		l.Printf("job %s is created", job.Name)
		created = append(created, job.Name)
	}
	return created, nil
}

func (s Submitter) rollback(ctx context.Context, names []string, l *log.Logger) {
	for _, name := range names {
		if err := s.Client.DeleteJob(ctx, s.Namespace, name); err != nil && !kubeerr.IsNotFound(err) {
			l.Printf("deleting job %s: %s", name, err)
		}
	}
}

type JobStatus string

const (
	Pending   JobStatus = "Pending"
	Running   JobStatus = "Running"
	Succeeded JobStatus = "Succeeded"
	Failed    JobStatus = "Failed"
)

// StatusOf tells how far a Job has progressed.
func StatusOf(job *kubebatch.Job) JobStatus {
	for _, c := range job.Status.Conditions {
		if c.Status != kubecore.ConditionTrue {
			continue
		}
		switch c.Type {
		case kubebatch.JobComplete:
			return Succeeded
		case kubebatch.JobFailed:
			return Failed
		}
	}
	if job.Status.Active > 0 || job.Status.Succeeded > 0 || job.Status.Failed > 0 {
		return Running
	}
	return Pending
}
