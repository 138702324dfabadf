package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitAcceptsSupportedEnvironments(t *testing.T) {
	for _, env := range []string{"production", "development", "test"} {
		require.NoError(t, Init(env, "info"), env)
	}
}

func TestInitRejectsUnknownEnvironment(t *testing.T) {
	assert.Error(t, Init("staging", "info"))
}

func TestInitRejectsInvalidLevel(t *testing.T) {
	assert.Error(t, Init("production", "loud"))
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel(LevelInfo) })

	SetLevel(LevelDebug)
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	SetLevel(LevelError)
	assert.Equal(t, zapcore.ErrorLevel, level.Level())
}

func TestLoggingBeforeInitDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Info("hello", "k", 1)
		Error("boom", errors.New("x"), "k", 2)
		Debug("quiet")
		Warn("careful")
	})
}
