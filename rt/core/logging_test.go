package core

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"trace": LevelDebug,
		"DEBUG": LevelDebug,
		"":      LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestDefaultLoggerLevels(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewDefaultLogger("pt", LevelWarn)
	l.out = log.New(&out, "", 0)
	l.err = log.New(&errOut, "", 0)

	l.Debugf("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Warnf("shown %d", 3)
	assert.Empty(t, out.String())
	assert.Equal(t, "[pt] WARN: shown 3\n", errOut.String())

	l.SetDebug(true)
	assert.True(t, l.DebugEnabled())
	l.Debugf("now %s", "visible")
	assert.Equal(t, "[pt] DEBUG: now visible\n", out.String())

	l.SetDebug(false)
	assert.False(t, l.DebugEnabled())
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := NewDefaultLogger("", LevelInfo)
	assert.Same(t, l, OrNop(l))
}
