package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")

	flush, err := Init(Config{Level: "debug", File: path})
	require.NoError(t, err)
	t.Cleanup(func() {
		flush()
		InfoLogger = zap.NewNop()
		FatalLogger = zap.NewNop()
	})

	old := SetServiceName("engine")
	defer SetServiceName(old)

	Info("cycle %d done", 7)
	flush()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"cycle 7 done"`)
	assert.Contains(t, string(data), `"service":"engine"`)
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	_, err := Init(Config{Level: "loud"})
	require.Error(t, err)
}
