// SPDX-License-Identifier: Apache-2.0
/*
 * dedup: hard-link deduplication for directory trees
 * Copyright (C) 2019-2026 The hardlink-tools Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/urfave/cli"

	"github.com/hardlink-tools/dedup"
	"github.com/hardlink-tools/dedup/pkg/fseval"
)

// version is populated on build by make.
var version = ""

// gitCommit is the commit hash the binary was built from, populated on build
// by make.
var gitCommit = ""

const usage = `deduplicate a directory tree with hard links`

func main() {
	log.SetHandler(logcli.New(os.Stderr))

	app := cli.NewApp()
	app.Name = "dedup"
	app.Usage = usage
	app.ArgsUsage = `<folder>

Where "<folder>" is the directory to deduplicate. Byte-identical regular
files beneath it are replaced with hard links to a single inode, and a
sidecar index is written to <folder>/.index_file.csv so that subsequent runs
skip re-hashing unchanged files.`

	v := "unknown"
	if version != "" {
		v = version
	}
	if gitCommit != "" {
		v = fmt.Sprintf("%s~git%s", v, gitCommit)
	}
	app.Version = v

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "dry-run",
			Usage: "report duplicates without mutating the tree; emit the index on stdout",
		},
		cli.BoolFlag{
			Name:  "verify",
			Usage: "take a content manifest before linking and re-check it after",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "set log level to debug",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "only log warnings and errors",
		},
	}

	app.Before = func(ctx *cli.Context) error {
		if ctx.GlobalBool("verbose") && ctx.GlobalBool("quiet") {
			return errors.New("--verbose and --quiet are mutually exclusive")
		}
		switch {
		case ctx.GlobalBool("verbose"):
			log.SetLevel(log.DebugLevel)
		case ctx.GlobalBool("quiet"):
			log.SetLevel(log.WarnLevel)
		default:
			log.SetLevel(log.InfoLevel)
		}
		return nil
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("exactly one <folder> argument is required")
	}
	folder := ctx.Args().First()
	if folder == "" {
		return errors.New("folder cannot be empty")
	}

	dryRun := ctx.GlobalBool("dry-run")
	fs := fseval.Default
	if dryRun {
		fs = fseval.ReadOnly(fs)
	}

	idx, _, err := dedup.Run(fs, folder, dedup.Options{
		DryRun: dryRun,
		Verify: ctx.GlobalBool("verify"),
	})
	if err != nil {
		return err
	}
	if dryRun {
		return idx.WriteTo(os.Stdout)
	}
	return nil
}
