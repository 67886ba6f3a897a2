// Package handoff publishes the API server port to the GUI front end through
// a small script file that the front end loads before talking to the server.
package handoff

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// VariableName is the front-end variable assigned the server port.
	VariableName = "serverPort"
	// DefaultRelativePath is where the handoff file lives inside the asset
	// directory unless configured otherwise.
	DefaultRelativePath = "js/tempPort.js"
)

// Content returns the exact file content announcing port.
func Content(port int) string {
	return fmt.Sprintf("var %s = %d;\n", VariableName, port)
}

// Path joins the asset directory and the relative handoff path.
func Path(assetDir, relPath string) string {
	return filepath.Join(assetDir, filepath.FromSlash(relPath))
}

// Publish writes the handoff file for port and returns its path. Previous
// content is truncated. The parent directory must already exist.
func Publish(assetDir, relPath string, port int) (string, error) {
	if relPath == "" {
		relPath = DefaultRelativePath
	}
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("handoff path %q must be relative to the asset directory", relPath)
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid port %d", port)
	}

	path := Path(assetDir, relPath)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open handoff file: %w", err)
	}
	if _, err := f.WriteString(Content(port)); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write handoff file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close handoff file %s: %w", path, err)
	}
	return path, nil
}
