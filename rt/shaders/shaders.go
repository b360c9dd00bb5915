// Package shaders embeds the WGSL sources. Struct declarations must match
// rt/layout byte for byte.
package shaders

import (
	_ "embed"
)

//go:embed trace.wgsl
var TraceWGSL string

//go:embed resolve.wgsl
var ResolveWGSL string

//go:embed fullscreen.wgsl
var FullscreenWGSL string

// Entry points.
const (
	ClearEntry   = "clear_main"
	TraceEntry   = "trace_main"
	ResolveEntry = "resolve_main"
	VertexEntry  = "vs_main"
	FragEntry    = "fs_main"
)

// WorkgroupSize is the edge of the square compute workgroups.
const WorkgroupSize = 8

// Source pairs a shader with a label, for tools that process all of them.
type Source struct {
	Name string
	Code string
}

func All() []Source {
	return []Source{
		{Name: "trace", Code: TraceWGSL},
		{Name: "resolve", Code: ResolveWGSL},
		{Name: "fullscreen", Code: FullscreenWGSL},
	}
}
