package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveDownloadPrefersFlagsOverDefaults(t *testing.T) {
	cfg := ResolveDownload("/tmp/out", 7000, true)
	require.Equal(t, "/tmp/out", cfg.OutputDir)
	require.EqualValues(t, 7000, cfg.Port)
	require.True(t, cfg.Verbose)
}

func TestResolveDownloadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("LEECH_OUTPUT_DIR", "/env/out")
	t.Setenv("LEECH_PORT", "9999")
	t.Setenv("LEECH_VERBOSE", "true")

	cfg := ResolveDownload(DefaultOutputDir, DefaultPort, false)
	require.Equal(t, "/env/out", cfg.OutputDir)
	require.EqualValues(t, 9999, cfg.Port)
	require.True(t, cfg.Verbose)
}
