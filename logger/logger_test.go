package logger

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetSugarWritesLogFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("winfile sink paths")
	}
	dir := t.TempDir()
	sugar := GetSugar(dir, true)
	defer func() {
		Defer()
		logger = nil
	}()

	sugar.Debugf("PKG revision: %v", "RETAIL")
	zap.S().Infof("Parsing file: %v", "game.pkg")
	Defer()

	data, err := os.ReadFile(filepath.Join(dir, LOGGER_FILE))
	require.NoError(t, err)
	assert.Contains(t, string(data), "PKG revision: RETAIL")
	assert.Contains(t, string(data), "Parsing file: game.pkg")
}

func TestConfigLevel(t *testing.T) {
	assert.Equal(t, zap.InfoLevel, newConfig("x.log", false).Level.Level())
	assert.Equal(t, zap.DebugLevel, newConfig("x.log", true).Level.Level())
}
