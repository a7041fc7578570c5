package logger

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

func Null() *log.Logger {
	return log.New(io.Discard, "", log.LstdFlags)
}

func Default() *log.Logger {
	return log.Default()
}

type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
	Critical
)

var ErrUnknownLevel = errors.New("unknown log level")

var levelNames = map[Level]string{
	Debug:    "debug",
	Info:     "info",
	Warning:  "warning",
	Error:    "error",
	Critical: "critical",
}

func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel accepts level names case-insensitively.
func ParseLevel(s string) (Level, error) {
	for l, n := range levelNames {
		if strings.EqualFold(n, s) {
			return l, nil
		}
	}
	return Info, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// Leveled returns base when messages at level at are shown under threshold,
// or a discarding logger otherwise.
//
//	debug := logger.Leveled(l, threshold, logger.Debug)
//	debug.Printf("resolved %d files", n)
func Leveled(base *log.Logger, threshold Level, at Level) *log.Logger {
	if at < threshold {
		return Null()
	}
	return base
}

// Tee opens log files and returns a writer sending to stream and all of them.
//
// Parent directories of files are created. The returned closer closes files.
func Tee(stream io.Writer, files ...string) (io.Writer, func() error, error) {
	writers := []io.Writer{}
	if stream != nil {
		writers = append(writers, stream)
	}
	opened := []*os.File{}
	closeAll := func() error {
		errs := []error{}
		for _, f := range opened {
			errs = append(errs, f.Close())
		}
		return errors.Join(errs...)
	}

	for _, p := range files {
		if p == "" {
			continue
		}
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, os.FileMode(0755)); err != nil {
				closeAll()
				return nil, nil, err
			}
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, os.FileMode(0644))
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opened = append(opened, f)
		writers = append(writers, f)
	}
	return io.MultiWriter(writers...), closeAll, nil
}
