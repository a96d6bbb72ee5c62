package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/aegistudio/go-projfs/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(zapcore.InfoLevel, parseLevel("unknown"))
}

func TestNew(t *testing.T) {
	assert := assert.New(t)
	logger := New(config.LoggingConfig{Level: "error", Format: "json"}, false)
	assert.False(logger.Core().Enabled(zapcore.WarnLevel))
	assert.True(logger.Core().Enabled(zapcore.ErrorLevel))
	logger = New(config.LoggingConfig{Level: "error", Format: "text"}, true)
	assert.True(logger.Core().Enabled(zapcore.DebugLevel))
}
