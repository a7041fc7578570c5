package gridcontrol

import (
	"regexp"
	"strings"
)

var rePlaceholder = regexp.MustCompile(`\$(?:(\$)|([_a-zA-Z][_a-zA-Z0-9]*)|\{([_a-zA-Z][_a-zA-Z0-9]*)\})`)

// Substitute replaces $name and ${name} with values in m.
//
// "$$" becomes "$". Names missing in m, and anything else, are left as written.
func Substitute(line string, m map[string]string) string {
	return rePlaceholder.ReplaceAllStringFunc(line, func(token string) string {
		sub := rePlaceholder.FindStringSubmatch(token)
		if sub[1] != "" {
			return "$"
		}
		name := sub[2]
		if name == "" {
			name = sub[3]
		}
		if v, ok := m[name]; ok {
			return v
		}
		return token
	})
}

// LiteralEnvs are replaced verbatim in a materialized configuration.
var LiteralEnvs = []string{"CMSSW_BASE", "X509_USER_PROXY"}

// Expand substitutes every line, then replaces LiteralEnvs tokens ("$NAME")
// with values from getenv.
func Expand(lines []string, m map[string]string, getenv func(string) string) []string {
	ret := make([]string, len(lines))
	for i, line := range lines {
		line = Substitute(line, m)
		for _, name := range LiteralEnvs {
			line = strings.ReplaceAll(line, "$"+name, getenv(name))
		}
		ret[i] = line
	}
	return ret
}
