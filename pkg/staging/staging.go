// Package staging copies remote files referenced by a configuration into a
// local scratch directory.
package staging

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/opst/anawrap/pkg/configdoc"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/runner"
)

// DefaultIdentifiers are the URL schemes staged when none are given.
var DefaultIdentifiers = []string{"dcap", "root"}

// Copier fetches a remote file to a local path.
type Copier interface {
	Copy(ctx context.Context, remote string, local string) error
}

// CommandCopier copies with xrdcp (root://) or dccp (dcap://).
type CommandCopier struct {
	Commander runner.Commander
	Logger    *log.Logger
}

func (c CommandCopier) command(remote, local string) (runner.Command, error) {
	switch {
	case strings.HasPrefix(remote, "root://"):
		return runner.Command{Path: "xrdcp", Args: []string{"-f", remote, local}}, nil
	case strings.HasPrefix(remote, "dcap://"):
		return runner.Command{Path: "dccp", Args: []string{remote, local}}, nil
	}
	return runner.Command{}, fmt.Errorf("no copy tool for %s", remote)
}

func (c CommandCopier) Copy(ctx context.Context, remote string, local string) error {
	cmd, err := c.command(remote, local)
	if err != nil {
		return err
	}
	l := c.Logger
	if l == nil {
		l = logger.Null()
	}
	l.Printf("copy %s -> %s", remote, local)
	code, err := c.Commander.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("copying %s: %w", remote, err)
	}
	if code != 0 {
		return fmt.Errorf("copying %s: %s exited with code %d", remote, cmd.Path, code)
	}
	return nil
}

// Area is a scratch directory holding staged files.
type Area struct {
	dir    string
	staged map[string]string
}

func (a *Area) Dir() string {
	return a.dir
}

// Staged maps remote locations to their local copies.
func (a *Area) Staged() map[string]string {
	ret := make(map[string]string, len(a.staged))
	for k, v := range a.staged {
		ret[k] = v
	}
	return ret
}

// Close removes the area with its content.
func (a *Area) Close() error {
	if a == nil || a.dir == "" {
		return nil
	}
	return os.RemoveAll(a.dir)
}

// Stage copies every string leaf of doc which is a URL with one of the
// identifiers as scheme into a new temporary directory "artus_remote_files_*",
// and returns doc with those leaves pointing to the copies.
//
// A URL appearing more than once is copied once. When a copy fails, the
// directory is removed before returning the error. Otherwise the caller owns
// the Area and should Close it.
func Stage(ctx context.Context, doc configdoc.Document, copier Copier, identifiers []string) (*Area, configdoc.Document, error) {
	if len(identifiers) == 0 {
		identifiers = DefaultIdentifiers
	}
	dir, err := os.MkdirTemp("", "artus_remote_files_")
	if err != nil {
		return nil, configdoc.Document{}, err
	}
	area := &Area{dir: dir, staged: map[string]string{}}
	taken := map[string]struct{}{}

	staged, err := configdoc.MapStrings(doc, func(s string) (string, error) {
		if !isRemote(s, identifiers) {
			return s, nil
		}
		if local, ok := area.staged[s]; ok {
			return local, nil
		}

		base := filepath.Base(s)
		name := base
		for i := 1; ; i++ {
			if _, ok := taken[name]; !ok {
				break
			}
			name = fmt.Sprintf("%d_%s", i, base)
		}
		taken[name] = struct{}{}
		local := filepath.Join(dir, name)

		if err := copier.Copy(ctx, s, local); err != nil {
			return "", err
		}
		area.staged[s] = local
		return local, nil
	})
	if err != nil {
		area.Close()
		return nil, configdoc.Document{}, err
	}
	return area, staged, nil
}

func isRemote(s string, identifiers []string) bool {
	for _, id := range identifiers {
		if strings.HasPrefix(s, id+"://") {
			return true
		}
	}
	return false
}
