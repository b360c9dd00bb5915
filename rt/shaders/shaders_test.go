package shaders

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gekko3d/pathtracer/rt/layout"

	"github.com/gogpu/naga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShaderSources(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		contains []string
	}{
		{
			name:   "trace",
			source: TraceWGSL,
			contains: []string{
				"@compute",
				"@workgroup_size(8, 8, 1)",
				"fn " + ClearEntry,
				"fn " + TraceEntry,
				"var<storage, read_write> accum",
				"@group(1) @binding(0) var<uniform> frame",
			},
		},
		{
			name:   "resolve",
			source: ResolveWGSL,
			contains: []string{
				"@compute",
				"fn " + ResolveEntry,
				"texture_storage_2d<rgba8unorm, write>",
				"textureStore",
			},
		},
		{
			name:   "fullscreen",
			source: FullscreenWGSL,
			contains: []string{
				"@vertex",
				"@fragment",
				"fn " + VertexEntry,
				"fn " + FragEntry,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotEmpty(t, tt.source)
			for _, s := range tt.contains {
				assert.Contains(t, tt.source, s)
			}
		})
	}
}

func TestStructsMatchLayout(t *testing.T) {
	for _, s := range []*layout.Struct{&layout.SphereLayout, &layout.MaterialLayout, &layout.FrameParamsLayout} {
		assert.Contains(t, TraceWGSL, s.WGSL(), "trace.wgsl %s", s.Name)
	}
	assert.Contains(t, ResolveWGSL, layout.ResolveParamsLayout.WGSL())

	header := fmt.Sprintf("// layout version %d", layout.Version)
	assert.True(t, strings.HasPrefix(TraceWGSL, header))
	assert.True(t, strings.HasPrefix(ResolveWGSL, header))
}

func TestShadersCompileToSPIRV(t *testing.T) {
	for _, src := range All() {
		t.Run(src.Name, func(t *testing.T) {
			spirv, err := naga.Compile(src.Code)
			if err != nil {
				t.Skipf("naga cannot lower %s yet: %v", src.Name, err)
			}
			require.GreaterOrEqual(t, len(spirv), 4)
			magic := uint32(spirv[0]) | uint32(spirv[1])<<8 | uint32(spirv[2])<<16 | uint32(spirv[3])<<24
			assert.Equal(t, uint32(0x07230203), magic)
		})
	}
}
