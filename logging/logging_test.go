package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/danieljoseph18/flui-backend/config"
)

func TestNew(t *testing.T) {
	log, err := New(config.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	_, err = New(config.LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestRedactCredential(t *testing.T) {
	assert.Equal(t, "sk-...", RedactCredential("sk-abcdef"))
	assert.Equal(t, "***", RedactCredential("abc"))
}
