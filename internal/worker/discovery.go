package worker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// commonAgentInstallPaths lists well-known install locations checked
// before falling back to a PATH lookup.
func commonAgentInstallPaths(binaryName string) []string {
	home, _ := os.UserHomeDir()
	paths := []string{
		filepath.Join(home, ".claude", "local", binaryName),
		filepath.Join(home, ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
		"/opt/homebrew/bin/" + binaryName,
	}
	return paths
}

// FindAgentBinary locates the external agent CLI by (a) an explicit
// configured path, (b) common installation paths, (c) a PATH lookup,
// in that order (spec §4.3 agent invocation).
func FindAgentBinary(configuredPath, binaryName string) (string, error) {
	if binaryName == "" {
		binaryName = "claude"
	}

	if configuredPath != "" {
		if info, err := os.Stat(configuredPath); err == nil && !info.IsDir() {
			return configuredPath, nil
		}
	}

	for _, candidate := range commonAgentInstallPaths(binaryName) {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	if resolved, err := exec.LookPath(binaryName); err == nil {
		return resolved, nil
	}

	return "", fmt.Errorf("agent binary %q not found via configured path, common install paths, or PATH", binaryName)
}
