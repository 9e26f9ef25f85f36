// Package pathdetect implements the path-autodetection external
// collaborator invoked during configuration startup and reload (spec
// §4.9 step 4): when the configured agent binary cannot be resolved as
// configured, probe common install locations and PATH for it.
package pathdetect

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var lookPath = exec.LookPath

// candidateNames are binary names tried, in order, when the configured
// agentPath does not resolve.
var candidateNames = []string{"claude", "claude-code", "agent"}

// Result carries the detector's proposal. Found is false when nothing
// better than the current configuration could be located.
type Result struct {
	Found        bool
	AgentPath    string
	ToolchainBin string
}

// Detect resolves agentPath if it is empty or does not stat as a regular
// file (a relative path is stat'ed against the working directory),
// first via PATH lookup of the candidate names, then by probing nvmDir
// (from NVM_DIR) for an installed node-based CLI shim. It never
// overrides a path that already stats clean.
func Detect(agentPath string) Result {
	if agentPath != "" {
		if info, err := os.Stat(agentPath); err == nil && !info.IsDir() {
			return Result{}
		}
	}

	for _, name := range candidateNames {
		if resolved, err := lookPath(name); err == nil {
			return Result{
				Found:        true,
				AgentPath:    resolved,
				ToolchainBin: filepath.Dir(resolved),
			}
		}
	}

	if nvmDir := strings.TrimSpace(os.Getenv("NVM_DIR")); nvmDir != "" {
		if found, ok := probeNVM(nvmDir); ok {
			return Result{
				Found:        true,
				AgentPath:    found,
				ToolchainBin: filepath.Dir(found),
			}
		}
	}

	return Result{}
}

// probeNVM scans nvmDir/versions/node/*/bin for any of the candidate
// binary names, preferring the lexicographically last version
// directory. Names are compared as plain strings, not as versions:
// v20.11.0 sorts after v18.19.0, but v9.0.0 also sorts after both.
func probeNVM(nvmDir string) (string, bool) {
	versionsDir := filepath.Join(nvmDir, "versions", "node")
	entries, err := os.ReadDir(versionsDir)
	if err != nil {
		return "", false
	}

	var best string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if best == "" || entry.Name() > best {
			best = entry.Name()
		}
	}
	if best == "" {
		return "", false
	}

	binDir := filepath.Join(versionsDir, best, "bin")
	for _, name := range candidateNames {
		candidate := filepath.Join(binDir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}
