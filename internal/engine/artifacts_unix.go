//go:build !windows

package engine

import "github.com/google/renameio/v2"

// writeArtifact replaces the file at path atomically.
func writeArtifact(path string, data []byte) error {
	return renameio.WriteFile(path, data, 0o644)
}
