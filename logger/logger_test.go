package logger

import (
	"testing"

	"github.com/meinhoongagan/service-marketplace/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "warn"}, false)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = New(config.LoggingConfig{Level: "warn"}, true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	_, err = New(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}
