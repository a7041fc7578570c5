// Package nickname derives dataset nicknames from file names.
//
// Skims are named like "kappa_<nickname>_<N>.root"; the nickname is what lies
// between the first and the last underscore of the base name.
package nickname

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Extract returns the nickname of a file path.
//
// When the base name does not carry a nickname, fallback is returned.
func Extract(path string, fallback string) string {
	base := filepath.Base(path)
	first := strings.Index(base, "_")
	last := strings.LastIndex(base, "_")
	if first < 0 || last <= first+1 {
		return fallback
	}
	return base[first+1 : last]
}

// OutputPattern matches base names of files of a nickname, as
// "<prefix>_<nickname>_<N>.root".
func OutputPattern(nick string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`_%s_[0-9]+\.root$`, regexp.QuoteMeta(nick)))
}

// MatchFirst returns the first nickname, in the given order, whose output
// pattern matches the base name of file.
func MatchFirst(nicks []string, file string) (string, bool) {
	base := filepath.Base(file)
	for _, n := range nicks {
		if OutputPattern(n).MatchString(base) {
			return n, true
		}
	}
	return "", false
}

// FromOutputDir returns the nickname of a per-nickname output directory.
func FromOutputDir(dir string) string {
	return filepath.Base(filepath.Clean(dir))
}
