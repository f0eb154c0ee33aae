package config

import (
	"io"
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} and ${VAR:-default} references. viper has
// no such expansion syntax (only flat AutomaticEnv key binding), so this
// is a small stdlib-only pre-pass over the raw document before it reaches
// the parser.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces every ${VAR} or ${VAR:-default} reference in doc with
// the named environment variable's value, or default if unset/empty.
func expandEnv(doc string) string {
	return envVarPattern.ReplaceAllStringFunc(doc, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[3]
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		return fallback
	})
}

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}
