package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ippclub/rustdist/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, getLogLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, getLogLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, getLogLevel("bogus"))
}

func TestInitLogger_WritesJSONToFile(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Filename = filepath.Join(t.TempDir(), "logs", "rustdist.log")

	log, err := InitLogger(cfg)
	require.NoError(t, err)
	log.Info("sync finished", zap.Int("inserted", 2))
	log.Debug("not written at info level")
	_ = log.Sync()

	data, err := os.ReadFile(cfg.Log.Filename)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry), "exactly one JSON line")
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "sync finished", entry["msg"])
	assert.EqualValues(t, 2, entry["inserted"])
}
