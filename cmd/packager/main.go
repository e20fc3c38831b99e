// Copyright 2024 The Taskkernel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/oxidecomputer/taskkernel/kernel/caboose"
)

const usage = `packager image packager

packager merges board-specific TOML overlays into a base app
descriptor and allocates each task's memory requests out of the
descriptor's declared output pools (spec §4.L).
`

// fs is the filesystem every command reads from. main wires it to the
// real OS filesystem; tests in this package swap in
// afero.NewMemMapFs() so the pack/merge/tags file-reading paths run
// against an in-memory image instead of real files on disk.
var fs afero.Fs = afero.NewOsFs()

func main() {
	app := cli.NewApp()
	app.Name = "packager"
	app.Usage = usage
	app.Version = "0.1.0"

	app.Commands = []cli.Command{
		packCommand(),
		mergeCommand(),
		tagsCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func packCommand() cli.Command {
	return cli.Command{
		Name:      "pack",
		Usage:     "merge overlays into a base descriptor and print the resulting memory layout",
		ArgsUsage: "<base.toml> [overlay.toml...]",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() < 1 {
				return fmt.Errorf("packager: pack requires a base descriptor path")
			}

			base, err := readTOMLMap(ctx.Args().Get(0))
			if err != nil {
				return err
			}

			overlays := make([][]byte, 0, ctx.NArg()-1)
			for _, path := range ctx.Args()[1:] {
				data, err := afero.ReadFile(fs, path)
				if err != nil {
					return fmt.Errorf("packager: reading overlay %q: %w", path, err)
				}
				overlays = append(overlays, data)
			}

			merged, err := mergeOverlays(base, overlays)
			if err != nil {
				return err
			}
			cfg, err := reencodeConfig(merged)
			if err != nil {
				return err
			}

			plans, err := planMemory(cfg)
			if err != nil {
				return err
			}
			for _, plan := range plans {
				for mem, r := range plan.Ranges {
					fmt.Printf("%s\t%s\t[%#x, %#x)\n", plan.Task, mem, r.Start, r.End)
				}
			}
			return nil
		},
	}
}

func mergeCommand() cli.Command {
	return cli.Command{
		Name:      "merge",
		Usage:     "print the effect of a patch overlay on a base descriptor, without allocating memory",
		ArgsUsage: "<base.toml> <patch.toml>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 2 {
				return fmt.Errorf("packager: merge requires exactly a base and a patch path")
			}
			base, err := readTOMLMap(ctx.Args().Get(0))
			if err != nil {
				return err
			}
			patch, err := afero.ReadFile(fs, ctx.Args().Get(1))
			if err != nil {
				return fmt.Errorf("packager: reading patch %q: %w", ctx.Args().Get(1), err)
			}
			merged, err := mergeOverlays(base, [][]byte{patch})
			if err != nil {
				return err
			}
			out, err := encodeMergedForDisplay(merged)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func tagsCommand() cli.Command {
	return cli.Command{
		Name:      "tags",
		Usage:     "decode the caboose build-tag trailer of a packaged image",
		ArgsUsage: "<image-caboose.bin>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return fmt.Errorf("packager: tags requires exactly one caboose blob path")
			}
			data, err := afero.ReadFile(fs, ctx.Args().Get(0))
			if err != nil {
				return fmt.Errorf("packager: reading caboose %q: %w", ctx.Args().Get(0), err)
			}
			records, err := caboose.NewReader(data).All()
			if err != nil {
				return fmt.Errorf("packager: reading caboose: %w", err)
			}
			for _, rec := range records {
				fmt.Printf("%s\t%s\n", rec.Tag, string(rec.Value))
			}
			return nil
		},
	}
}

func readTOMLMap(path string) (map[string]interface{}, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("packager: reading %q: %w", path, err)
	}
	return decodeTOMLMap(data)
}
