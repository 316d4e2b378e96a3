package config

import "os"

// ExpandEnv expands environment variables in YAML content using Go's standard
// library, supporting both ${VAR} and $VAR syntax.
//
// Missing variables expand to empty string; validation is expected to catch
// required fields left empty by an unset variable.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
