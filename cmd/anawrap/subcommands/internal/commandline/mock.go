package commandline

import (
	"io"
	"strings"

	"github.com/youta-t/flarc"
)

// Fake is a flarc.Commandline for task tests.
//
// Its stdout and stderr are buffers, which New hands back to the test.
type Fake[T any] struct {
	fullname string
	stdin    io.Reader
	stdout   *strings.Builder
	stderr   *strings.Builder
	flags    T
	args     map[string][]string
}

var _ flarc.Commandline[struct{}] = Fake[struct{}]{}

func (f Fake[T]) Fullname() string          { return f.fullname }
func (f Fake[T]) Stdin() io.Reader          { return f.stdin }
func (f Fake[T]) Stdout() io.Writer         { return f.stdout }
func (f Fake[T]) Stderr() io.Writer         { return f.stderr }
func (f Fake[T]) Flags() T                  { return f.flags }
func (f Fake[T]) Args() map[string][]string { return f.args }

// New returns a commandline of a command named fullname, with its stdout and
// stderr buffers. A nil args means no positional arguments.
func New[T any](fullname string, flags T, args map[string][]string) (Fake[T], *strings.Builder, *strings.Builder) {
	if args == nil {
		args = map[string][]string{}
	}
	f := Fake[T]{
		fullname: fullname,
		stdin:    strings.NewReader(""),
		stdout:   new(strings.Builder),
		stderr:   new(strings.Builder),
		flags:    flags,
		args:     args,
	}
	return f, f.stdout, f.stderr
}
