package main

import (
	"context"
	"image"

	"github.com/gekko3d/pathtracer"
	"github.com/gekko3d/pathtracer/rt/imageio"

	"github.com/urfave/cli"
)

// Render traces --frames samples per pixel and writes the resolved image.
func Render(ctx *cli.Context) error {
	log, err := setupLogging(ctx)
	if err != nil {
		return err
	}
	out := ctx.Args().First()
	if out == "" {
		return cli.NewExitError("render: missing OUTPUT path", 2)
	}
	if _, err := imageio.FormatFor(out); err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	frames := ctx.Int("frames")
	if frames < 1 {
		return cli.NewExitError("render: --frames must be at least 1", 2)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	backend, err := openBackend(ctx.String("backend"), cfg, log)
	if err != nil {
		return err
	}
	tr, err := pathtracer.New(backend, cfg, log)
	if err != nil {
		backend.Close()
		return cli.NewExitError(err.Error(), 1)
	}

	bg := context.Background()
	defer tr.Close(bg)

	img, err := tr.Render(bg, frames)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	log.Debugf("%s", tr.Profiler().GetStatsString())

	var final image.Image = img
	if s := ctx.Float64("scale"); s > 0 && s != 1 {
		final = imageio.Scale(img, s)
	}
	if err := imageio.Save(out, final); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	log.Infof("run %s: wrote %s (%d samples, %.1f ms/frame)", tr.RunID(), out, tr.SampleCount(), tr.FPS().RenderMS())
	return nil
}
