package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli"
)

func init() {
	// glfw and the window surface must stay on the main thread
	runtime.LockOSThread()
}

var backendFlags = []cli.Flag{
	cli.StringFlag{Name: "config, c", Usage: "JSON scene/config file"},
	cli.UintFlag{Name: "width", Usage: "output width (overrides config)"},
	cli.UintFlag{Name: "height", Usage: "output height (overrides config)"},
	cli.StringFlag{Name: "backend, b", Value: "auto", Usage: "cpu, gpu or auto"},
	cli.IntFlag{Name: "workers", Usage: "software backend workers (0 = GOMAXPROCS)"},
	cli.UintFlag{Name: "seed", Usage: "frame seed"},
	cli.UintFlag{Name: "max-depth", Usage: "maximum path length"},
}

func main() {
	app := cli.NewApp()
	app.Name = "pathtracer"
	app.Usage = "progressive sphere path tracer"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error"},
		cli.BoolFlag{Name: "no-color", Usage: "accepted for compatibility; output is never coloured"},
	}
	app.Commands = []cli.Command{
		{
			Name:      "render",
			Usage:     "render a fixed number of samples headless and write the image",
			ArgsUsage: "OUTPUT (.png, .webp, .tga, .bmp, .tiff)",
			Flags: append([]cli.Flag{
				cli.IntFlag{Name: "frames, n", Value: 64, Usage: "samples per pixel"},
				cli.Float64Flag{Name: "scale", Value: 1, Usage: "rescale the output image"},
			}, backendFlags...),
			Action: Render,
		},
		{
			Name:   "view",
			Usage:  "open a window and refine the image progressively",
			Flags:  backendFlags,
			Action: View,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
