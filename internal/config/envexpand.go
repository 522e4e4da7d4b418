package config

import "os"

// ExpandEnv expands ${VAR}/$VAR references in raw YAML bytes before
// parsing, matching the teacher's pkg/config/envexpand.go.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
