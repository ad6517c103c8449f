package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCaptureProfiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	require.NoError(t, captureProfiles(dir, 10*time.Millisecond, now))

	for _, name := range []string{
		"floodbus-cpu-20240301-123000.pprof",
		"floodbus-heap-20240301-123000.pprof",
	} {
		fi, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		require.NotZero(t, fi.Size(), name)
	}
}

func TestCaptureProfilesBadDir(t *testing.T) {
	require.Error(t, captureProfiles(filepath.Join(t.TempDir(), "missing"), time.Millisecond, time.Now()))
}
