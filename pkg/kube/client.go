// Package kube runs batch submissions as Kubernetes Jobs.
package kube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	kubebatch "k8s.io/api/batch/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Client is the subset of kubernetes.Clientset used to manage Jobs.
type Client interface {
	CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error)
	GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
	DeleteJob(ctx context.Context, namespace string, name string) error
}

type client struct {
	clientset *kubernetes.Clientset
}

var _ Client = &client{}

// Wrap adapts a Clientset to Client.
func Wrap(c *kubernetes.Clientset) Client {
	return &client{clientset: c}
}

func (c *client) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	return c.clientset.BatchV1().Jobs(namespace).Create(ctx, job, kubeapimeta.CreateOptions{})
}

func (c *client) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	return c.clientset.BatchV1().Jobs(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (c *client) DeleteJob(ctx context.Context, namespace string, name string) error {
	foreground := kubeapimeta.DeletePropagationForeground
	zero := int64(0)
	return c.clientset.BatchV1().Jobs(namespace).Delete(ctx, name, kubeapimeta.DeleteOptions{
		GracePeriodSeconds: &zero,
		PropagationPolicy:  &foreground,
	})
}

// FindKubeconfig picks the kubeconfig file to use.
//
// Candidates, later ones winning: "~/.kube/config", $KUBECONFIG, then the
// first existing file in searchPath. It returns "" when none exists.
func FindKubeconfig(searchPath ...string) string {
	isFile := func(p string) bool {
		s, err := os.Stat(p)
		return err == nil && !s.IsDir()
	}

	kubeconfig := ""
	if home := homedir.HomeDir(); home != "" {
		if p := filepath.Join(home, ".kube", "config"); isFile(p) {
			kubeconfig = p
		}
	}
	if k := os.Getenv("KUBECONFIG"); k != "" && isFile(k) {
		kubeconfig = k
	}
	for _, sp := range searchPath {
		if sp != "" && isFile(sp) {
			kubeconfig = sp
			break
		}
	}
	return kubeconfig
}

// Connect builds a Client from the kubeconfig found by FindKubeconfig, or
// from in-cluster configuration when there is none.
func Connect(searchPath ...string) (Client, error) {
	var config *rest.Config
	var err error
	if kubeconfig := FindKubeconfig(searchPath...); kubeconfig == "" {
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes configuration: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return Wrap(clientset), nil
}
