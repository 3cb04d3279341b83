// Package config loads agent.yaml: YAML with environment expansion, defaults,
// validation, and hot reload.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:-|:\?)([^}]*))?\}`)

// ExpandEnv replaces environment references in input:
//   - ${VAR} expands to the value, or empty when unset
//   - ${VAR:-default} expands to the value, or default when unset or empty
//   - ${VAR:?message} expands to the value, or fails with message when unset or empty
func ExpandEnv(input string) (string, error) {
	var (
		b       strings.Builder
		missing []string
		last    int
	)
	for _, m := range envVarPattern.FindAllStringSubmatchIndex(input, -1) {
		b.WriteString(input[last:m[0]])
		last = m[1]

		name := input[m[2]:m[3]]
		var op, arg string
		if m[4] >= 0 {
			op, arg = input[m[4]:m[5]], input[m[6]:m[7]]
		}

		value := os.Getenv(name)
		if value == "" {
			switch op {
			case ":-":
				value = arg
			case ":?":
				if arg == "" {
					arg = "required"
				}
				missing = append(missing, fmt.Sprintf("%s: %s", name, arg))
			}
		}
		b.WriteString(value)
	}
	b.WriteString(input[last:])

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(missing, "; "))
	}
	return b.String(), nil
}
