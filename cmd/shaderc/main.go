// Command shaderc compiles WGSL to SPIR-V with naga. Without arguments it
// compiles the embedded path tracer shaders.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gekko3d/pathtracer/rt/shaders"

	"github.com/gogpu/naga"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "shaderc"
	app.Usage = "compile WGSL shaders to SPIR-V"
	app.ArgsUsage = "[FILE.wgsl ...]"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "out, o", Value: ".", Usage: "output directory"},
		cli.BoolFlag{Name: "validate-only", Usage: "compile but do not write anything"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func sources(args []string) ([]shaders.Source, error) {
	if len(args) == 0 {
		return shaders.All(), nil
	}
	var out []shaders.Source
	for _, p := range args {
		code, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		out = append(out, shaders.Source{Name: name, Code: string(code)})
	}
	return out, nil
}

func run(ctx *cli.Context) error {
	srcs, err := sources(ctx.Args())
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	dir := ctx.String("out")
	if !ctx.Bool("validate-only") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	failed := 0
	for _, src := range srcs {
		spirv, err := naga.Compile(src.Code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", src.Name, err)
			failed++
			continue
		}
		if ctx.Bool("validate-only") {
			fmt.Printf("%s: ok (%d bytes)\n", src.Name, len(spirv))
			continue
		}
		path := filepath.Join(dir, src.Name+".spv")
		if err := os.WriteFile(path, spirv, 0o644); err != nil {
			return err
		}
		fmt.Printf("%s -> %s\n", src.Name, path)
	}
	if failed > 0 {
		return cli.NewExitError(fmt.Sprintf("%d of %d shaders failed", failed, len(srcs)), 1)
	}
	return nil
}
