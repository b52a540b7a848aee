package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("warn")
	require.NoError(t, err)
	assert.False(t, l.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Desugar().Core().Enabled(zapcore.WarnLevel))

	l, err = NewLogger("bogus")
	require.NoError(t, err)
	assert.True(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))
}
