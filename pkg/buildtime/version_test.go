package buildtime_test

import (
	"strings"
	"testing"

	"github.com/opst/anawrap/pkg/buildtime"
)

func TestVersionString(t *testing.T) {
	s := buildtime.VersionString()
	if !strings.HasPrefix(s, buildtime.VERSION()+" (commit: ") {
		t.Errorf("unexpected version string: %s", s)
	}
	if buildtime.GIT_REVISION() == "" {
		t.Error("revision is empty")
	}
}
