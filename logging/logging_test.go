package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestSetLevel(t *testing.T) {
	l := New(Options{Level: "info"})
	assert.False(t, l.SetLevel("info"))
	assert.True(t, l.SetLevel("error"))
	assert.Equal(t, zapcore.ErrorLevel, l.Level.Level())
	assert.False(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predmaint.log")
	l := New(Options{FilePath: path, Level: "debug", MaxSize: 1})
	l.Info("model artifact loaded", zap.String("path", "model_pipeline.json"))
	_ = l.Sync()

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "model artifact loaded")
	assert.Contains(t, string(payload), "model_pipeline.json")
}
