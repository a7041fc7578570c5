package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/opst/anawrap/pkg/runner"
)

// Commander is a fake runner.Commander recording commands.
//
// Set Impl.Run to decide exit codes. Without it, every command exits with 0.
type Commander struct {
	t *testing.T

	mu    sync.Mutex
	calls []runner.Command

	Impl struct {
		Run func(ctx context.Context, cmd runner.Command) (int, error)
	}
}

var _ runner.Commander = &Commander{}

func New(t *testing.T) *Commander {
	return &Commander{t: t}
}

func (m *Commander) Run(ctx context.Context, cmd runner.Command) (int, error) {
	m.t.Helper()

	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	m.mu.Unlock()

	if m.Impl.Run == nil {
		return 0, nil
	}
	return m.Impl.Run(ctx, cmd)
}

// Calls returns commands run so far, in order.
func (m *Commander) Calls() []runner.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]runner.Command{}, m.calls...)
}

// Lines returns Calls as "path arg1 arg2 ..." strings.
func (m *Commander) Lines() []string {
	lines := []string{}
	for _, c := range m.Calls() {
		lines = append(lines, c.String())
	}
	return lines
}
