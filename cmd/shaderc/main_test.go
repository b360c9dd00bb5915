package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcesDefaultsToEmbedded(t *testing.T) {
	srcs, err := sources(nil)
	require.NoError(t, err)
	require.Len(t, srcs, 3)
	assert.Equal(t, "trace", srcs[0].Name)
}

func TestSourcesReadsFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "blur.wgsl")
	require.NoError(t, os.WriteFile(p, []byte("// empty"), 0o644))

	srcs, err := sources([]string{p})
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, "blur", srcs[0].Name)
	assert.Equal(t, "// empty", srcs[0].Code)

	_, err = sources([]string{filepath.Join(dir, "missing.wgsl")})
	assert.Error(t, err)
}
