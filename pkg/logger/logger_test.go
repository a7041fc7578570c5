package logger_test

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/utils/try"
)

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"debug", "INFO", "Warning", "error", "critical"} {
		l, err := logger.ParseLevel(name)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if !strings.EqualFold(l.String(), name) {
			t.Errorf("%s is parsed as %s", name, l)
		}
	}

	if _, err := logger.ParseLevel("verbose"); !errors.Is(err, logger.ErrUnknownLevel) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLeveled(t *testing.T) {
	buf := new(bytes.Buffer)
	base := log.New(buf, "", 0)

	logger.Leveled(base, logger.Info, logger.Debug).Print("hidden")
	logger.Leveled(base, logger.Info, logger.Info).Print("shown")
	logger.Leveled(base, logger.Debug, logger.Debug).Print("debug shown")

	if buf.String() != "shown\ndebug shown\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestTee(t *testing.T) {
	dir := t.TempDir()
	stream := new(bytes.Buffer)
	file := filepath.Join(dir, "logs", "log.log")

	w, closer, err := logger.Tee(stream, file, "")
	if err != nil {
		t.Fatal(err)
	}
	log.New(w, "", 0).Print("hello")
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	if stream.String() != "hello\n" {
		t.Errorf("stream: %q", stream.String())
	}
	if content := string(try.To(os.ReadFile(file)).OrFatal(t)); content != "hello\n" {
		t.Errorf("file: %q", content)
	}
}
