package pathdetect

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectSkipsWhenExistingPathResolves(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "claude")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	result := Detect(bin)
	require.False(t, result.Found)
}

func TestDetectFallsBackToPATH(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()
	lookPath = func(name string) (string, error) {
		if name == "claude" {
			return "/usr/local/bin/claude", nil
		}
		return "", exec.ErrNotFound
	}

	result := Detect("")
	require.True(t, result.Found)
	require.Equal(t, "/usr/local/bin/claude", result.AgentPath)
	require.Equal(t, "/usr/local/bin", result.ToolchainBin)
}

func TestDetectProbesNVMWhenPATHMisses(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()
	lookPath = func(name string) (string, error) { return "", exec.ErrNotFound }

	nvmDir := t.TempDir()
	binDir := filepath.Join(nvmDir, "versions", "node", "v20.11.0", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	claude := filepath.Join(binDir, "claude")
	require.NoError(t, os.WriteFile(claude, []byte("#!/bin/sh\n"), 0o755))

	t.Setenv("NVM_DIR", nvmDir)
	result := Detect("/does/not/exist")
	require.True(t, result.Found)
	require.Equal(t, claude, result.AgentPath)
	require.Equal(t, binDir, result.ToolchainBin)
}

func TestDetectReturnsNotFoundWhenNothingResolves(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()
	lookPath = func(name string) (string, error) { return "", exec.ErrNotFound }
	t.Setenv("NVM_DIR", "")

	result := Detect("")
	require.False(t, result.Found)
}
