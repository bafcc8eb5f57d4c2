package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	lg, err := New(DefaultConfig())
	require.NoError(t, err)
	defer lg.Close()

	assert.NotNil(t, lg.GetZerolog())
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	lg, err := New(Config{Level: "chatty", Console: true})
	require.NoError(t, err)
	defer lg.Close()

	assert.Equal(t, "info", lg.GetZerolog().GetLevel().String())
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kbserver.log")

	lg, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)

	log := lg.GetZerolog()
	log.Info().Str("component", "test").Msg("hello")
	require.NoError(t, lg.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
