package common

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/opst/anawrap/pkg/settings"
	"github.com/youta-t/flarc"
)

type TaskWithCommonFlag[T any] func(
	ctx context.Context,
	logger *log.Logger,
	commonFlag CommonFlags,
	cl flarc.Commandline[T],
	params []any,
) error

func NewTaskWithCommonFlag[T any](task TaskWithCommonFlag[T]) flarc.Task[T] {
	return func(ctx context.Context, cl flarc.Commandline[T], pos []any) error {
		var commonFlag CommonFlags
		found := false
		newpos := make([]any, 0, len(pos))
		for _, p := range pos {
			switch v := p.(type) {
			case CommonFlags:
				found = true
				commonFlag = v
			default:
				newpos = append(newpos, p)
			}
		}
		if !found {
			return errors.New("programming error: common flags not found")
		}

		logger := log.New(cl.Stderr(), "", log.LstdFlags)
		logger.SetPrefix(fmt.Sprintf("[%s] ", cl.Fullname()))

		return task(ctx, logger, commonFlag, cl, newpos)
	}
}

// Task is a subcommand body with settings loaded.
//
// Settings have environment variables expanded.
type Task[T any] func(
	ctx context.Context,
	logger *log.Logger,
	s settings.Settings,
	cl flarc.Commandline[T],
	params []any,
) error

func NewTask[T any](task Task[T]) flarc.Task[T] {
	return NewTaskWithCommonFlag(func(
		ctx context.Context,
		logger *log.Logger,
		commonFlag CommonFlags,
		cl flarc.Commandline[T],
		params []any,
	) error {
		s, err := settings.Load(commonFlag.Settings)
		if err != nil {
			return fmt.Errorf("%w: failed to load settings (%s)", err, commonFlag.Settings)
		}
		return task(ctx, logger, s.Expand(os.Getenv), cl, params)
	})
}

// ExitStatus carries the exit code of a subprocess out of flarc.Run.
type ExitStatus struct {
	code int
}

func (e *ExitStatus) Set(code int) {
	if e != nil {
		e.code = code
	}
}

func (e *ExitStatus) Code() int {
	if e == nil {
		return 0
	}
	return e.code
}
