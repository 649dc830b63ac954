package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestSetMinLevel_FiltersLowerLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	cleanup, err := InitWithTeaLog(path, "aircc")
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanup()
		defaultLogger = nil
	})

	SetMinLevel(LevelWarn)
	Debug(CatStage, "hidden debug")
	Info(CatStage, "hidden info")
	Warn(CatTool, "shown warning", "exit", 1)
	ErrorErr(CatLink, "shown error", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "[WARN] [tool] shown warning exit=1")
	require.Contains(t, out, "[ERROR] [link] shown error error=<nil>")
}
