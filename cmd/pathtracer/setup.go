package main

import (
	"fmt"

	"github.com/gekko3d/pathtracer"
	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/gpu"
	"github.com/gekko3d/pathtracer/rt/gpu/cpudev"
	"github.com/gekko3d/pathtracer/rt/gpu/wgpudev"

	"github.com/urfave/cli"
)

func setupLogging(ctx *cli.Context) (*core.DefaultLogger, error) {
	level, err := core.ParseLevel(ctx.GlobalString("log-level"))
	if err != nil {
		return nil, cli.NewExitError(err.Error(), 2)
	}
	return core.NewDefaultLogger("pathtracer", level), nil
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(ctx *cli.Context) (pathtracer.Config, error) {
	cfg := pathtracer.DefaultConfig()
	if path := ctx.String("config"); path != "" {
		var err error
		if cfg, err = pathtracer.LoadConfig(path); err != nil {
			return cfg, cli.NewExitError(err.Error(), 2)
		}
	}
	if ctx.IsSet("width") {
		cfg.Width = uint32(ctx.Uint("width"))
	}
	if ctx.IsSet("height") {
		cfg.Height = uint32(ctx.Uint("height"))
	}
	if ctx.IsSet("workers") {
		cfg.Workers = ctx.Int("workers")
	}
	if ctx.IsSet("seed") {
		cfg.Seed = uint32(ctx.Uint("seed"))
	}
	if ctx.IsSet("max-depth") {
		cfg.MaxDepth = uint32(ctx.Uint("max-depth"))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, cli.NewExitError(err.Error(), 2)
	}
	return cfg, nil
}

// openBackend opens a headless backend. "auto" prefers the GPU and falls
// back to the software backend.
func openBackend(name string, cfg pathtracer.Config, log core.Logger) (gpu.Backend, error) {
	switch name {
	case "cpu":
		return cpudev.New(cpudev.Options{Workers: cfg.Workers}, log), nil
	case "gpu":
		return wgpudev.New(log)
	case "auto":
		dev, err := wgpudev.New(log)
		if err == nil {
			return dev, nil
		}
		log.Warnf("no usable GPU (%v), using the software backend", err)
		return cpudev.New(cpudev.Options{Workers: cfg.Workers}, log), nil
	}
	return nil, cli.NewExitError(fmt.Sprintf("unknown backend %q", name), 2)
}
