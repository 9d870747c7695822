// This file is part of symdiff.
//
// Copyright (C) 2019-2024 GoRE Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Command symdiff compares the symbols of two binaries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/goretk/symdiff"
	"github.com/goretk/symdiff/extract"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type cliConfig struct {
	symdiff.Config

	configFile string
	jsonFile   string
	logLevel   string
	list       bool
	oldRepo    string
	newRepo    string
}

func (c *cliConfig) RegisterFlags(f *flag.FlagSet) {
	c.Config.RegisterFlags(f)
	f.StringVar(&c.configFile, "config.file", "", "YAML file with the comparison settings. Flags override its values.")
	f.StringVar(&c.jsonFile, "json", "", "Write the report as JSON to this file. Use - for stdout.")
	f.StringVar(&c.logLevel, "log.level", "info", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error]")
	f.BoolVar(&c.list, "list", false, "List the symbols of every category, not only the summary.")
	f.StringVar(&c.oldRepo, "old.repo", "", "Source tree of the old binary. The checked out git commit is recorded in the report.")
	f.StringVar(&c.newRepo, "new.repo", "", "Source tree of the new binary. The checked out git commit is recorded in the report.")
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("symdiff", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: symdiff [flags] OLD NEW")
		fs.PrintDefaults()
	}

	var cfg cliConfig
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if cfg.configFile != "" {
		if err := symdiff.LoadConfig(cfg.configFile, &cfg.Config); err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
		// Parse again so flags given on the command line win.
		if err := fs.Parse(args); err != nil {
			return exitUsage
		}
	}

	switch fs.NArg() {
	case 0:
	case 2:
		cfg.Old.Binary, cfg.New.Binary = fs.Arg(0), fs.Arg(1)
	default:
		fs.Usage()
		return exitUsage
	}
	if cfg.Old.Binary == "" || cfg.New.Binary == "" {
		fs.Usage()
		return exitUsage
	}

	logger, err := newLogger(stderr, cfg.logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	report, err := compare(ctx, logger, &cfg)
	if err != nil {
		level.Error(logger).Log("msg", "comparison failed", "err", err)
		return exitError
	}

	if err := printSummary(stdout, report); err != nil {
		level.Error(logger).Log("msg", "failed to print summary", "err", err)
		return exitError
	}
	if cfg.list {
		printCategories(stdout, report, cfg.SkipPersistingSameSize)
	}
	if cfg.jsonFile != "" {
		if err := writeJSON(cfg.jsonFile, stdout, report); err != nil {
			level.Error(logger).Log("msg", "failed to write report", "err", err)
			return exitError
		}
	}
	return exitOK
}

func newLogger(w io.Writer, lvl string) (log.Logger, error) {
	var opt level.Option
	switch lvl {
	case "debug":
		opt = level.AllowDebug()
	case "info":
		opt = level.AllowInfo()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return nil, fmt.Errorf("unknown log level %q", lvl)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return level.NewFilter(logger, opt), nil
}

// loadedBinary is one side of the comparison after extraction.
type loadedBinary struct {
	info    symdiff.BinaryInfo
	records []symdiff.Record
	regions []symdiff.Region
}

func compare(ctx context.Context, logger log.Logger, cfg *cliConfig) (*symdiff.Report, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	var bins [2]loadedBinary
	g, _ := errgroup.WithContext(ctx)
	for _, side := range []symdiff.Side{symdiff.Old, symdiff.New} {
		sc, repo := cfg.Old, cfg.oldRepo
		if side == symdiff.New {
			sc, repo = cfg.New, cfg.newRepo
		}
		g.Go(func() error {
			b, err := load(logger, side, sc, repo)
			if err != nil {
				return fmt.Errorf("%s binary %s: %w", side, sc.Binary, err)
			}
			bins[side] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	oldBin, newBin := bins[symdiff.Old], bins[symdiff.New]
	if oldBin.info.Arch != newBin.info.Arch {
		return nil, fmt.Errorf("%w: old binary is %q, new binary is %q",
			symdiff.ErrIncompatibleBinaries, oldBin.info.Arch, newBin.info.Arch)
	}

	opts = append(opts,
		symdiff.WithLogger(logger),
		symdiff.WithArch(oldBin.info.Arch),
		symdiff.WithRegions(symdiff.Old, oldBin.regions),
		symdiff.WithRegions(symdiff.New, newBin.regions),
	)
	report, err := symdiff.Compare(ctx, oldBin.records, newBin.records, opts...)
	if err != nil {
		return nil, err
	}
	report.Old = mergeInfo(oldBin.info, report.Old)
	report.New = mergeInfo(newBin.info, report.New)
	return report, nil
}

func load(logger log.Logger, side symdiff.Side, sc symdiff.SideConfig, repo string) (loadedBinary, error) {
	opts := []extract.Option{extract.WithLogger(log.With(logger, "side", side))}
	if sc.ManglingFile != "" {
		opts = append(opts, extract.WithManglingFile(sc.ManglingFile))
	}
	f, err := extract.Open(sc.Binary, opts...)
	if err != nil {
		return loadedBinary{}, err
	}
	defer f.Close()

	recs, err := f.Records(side)
	if err != nil {
		return loadedBinary{}, err
	}
	info := f.Info()
	if repo != "" {
		rev, err := extract.Revision(repo)
		switch {
		case errors.Is(err, extract.ErrNoGitRepository):
			level.Warn(logger).Log("msg", "source tree is not a git repository", "side", side, "dir", repo)
		case err != nil:
			return loadedBinary{}, err
		default:
			info.Revision = rev
		}
	}
	return loadedBinary{info: info, records: recs, regions: f.Regions()}, nil
}

// mergeInfo adds the counts computed during the comparison to the file
// description.
func mergeInfo(file, counted symdiff.BinaryInfo) symdiff.BinaryInfo {
	file.Records = counted.Records
	file.Excluded = counted.Excluded
	return file
}
