package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/opst/anawrap/pkg/kube"
	kubebatch "k8s.io/api/batch/v1"
)

// Client is a fake kube.Client.
//
// Methods without Impl fail the test.
type Client struct {
	t *testing.T

	mu    sync.Mutex
	Calls struct {
		CreateJob []*kubebatch.Job
		GetJob    []string
		DeleteJob []string
	}

	Impl struct {
		CreateJob func(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error)
		GetJob    func(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
		DeleteJob func(ctx context.Context, namespace string, name string) error
	}
}

var _ kube.Client = &Client{}

func New(t *testing.T) *Client {
	return &Client{t: t}
}

func (m *Client) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	m.t.Helper()
	m.mu.Lock()
	m.Calls.CreateJob = append(m.Calls.CreateJob, job)
	m.mu.Unlock()

	if m.Impl.CreateJob == nil {
		m.t.Fatal("CreateJob: not implemented")
	}
	return m.Impl.CreateJob(ctx, namespace, job)
}

func (m *Client) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	m.t.Helper()
	m.mu.Lock()
	m.Calls.GetJob = append(m.Calls.GetJob, name)
	m.mu.Unlock()

	if m.Impl.GetJob == nil {
		m.t.Fatal("GetJob: not implemented")
	}
	return m.Impl.GetJob(ctx, namespace, name)
}

func (m *Client) DeleteJob(ctx context.Context, namespace string, name string) error {
	m.t.Helper()
	m.mu.Lock()
	m.Calls.DeleteJob = append(m.Calls.DeleteJob, name)
	m.mu.Unlock()

	if m.Impl.DeleteJob == nil {
		m.t.Fatal("DeleteJob: not implemented")
	}
	return m.Impl.DeleteJob(ctx, namespace, name)
}
