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

package symdiff

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SelectionConfig holds the symbol selection expressions.
type SelectionConfig struct {
	Include string `yaml:"symbol_selection_regex"`
	Exclude string `yaml:"symbol_exclusion_regex"`
}

// SideConfig holds the settings for one of the two binaries. Its selection
// expressions override the shared ones.
type SideConfig struct {
	Binary       string `yaml:"binary"`
	ManglingFile string `yaml:"mangling_file"`

	SelectionConfig `yaml:",inline"`
}

func (cfg *SideConfig) registerFlags(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.ManglingFile, prefix+".mangling-file", "", "File with alternating mangled and demangled symbol names used instead of the demangler.")
	f.StringVar(&cfg.Include, prefix+".select", "", "Only compare symbols of the "+prefix+" binary matching this expression. Overrides -select.")
	f.StringVar(&cfg.Exclude, prefix+".exclude", "", "Ignore symbols of the "+prefix+" binary matching this expression. Overrides -exclude.")
}

// SimilarityConfig configures rename detection.
type SimilarityConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

// Config is the configuration of a comparison run.
type Config struct {
	Workers int `yaml:"workers"`

	SelectionConfig `yaml:",inline"`

	Old SideConfig `yaml:"old"`
	New SideConfig `yaml:"new"`

	Similarity SimilarityConfig `yaml:"similarity"`

	// SkipPersistingSameSize hides persisting symbols whose size didn't
	// change from rendered reports.
	SkipPersistingSameSize bool `yaml:"skip_persisting_same_size"`
}

// RegisterFlags registers the configuration flags and sets their defaults.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.Workers, "workers", DefaultWorkers, "Number of symbols normalized concurrently.")
	f.StringVar(&cfg.Include, "select", "", "Only compare symbols whose key or name matches this regular expression.")
	f.StringVar(&cfg.Exclude, "exclude", "", "Ignore symbols whose key or name matches this regular expression.")
	cfg.Old.registerFlags("old", f)
	cfg.New.registerFlags("new", f)
	f.BoolVar(&cfg.Similarity.Enabled, "similarity.enabled", false, "Report removed and added symbols that look like renames.")
	f.Float64Var(&cfg.Similarity.Threshold, "similarity.threshold", DefaultSimilarityThreshold, "Minimum similarity score of a reported rename, between 0 and 1.")
	f.BoolVar(&cfg.SkipPersistingSameSize, "skip-persisting-same-size", false, "Don't list persisting symbols whose size didn't change.")
}

// Validate checks the configuration.
func (cfg *Config) Validate() error {
	// Zero workers selects the default.
	if cfg.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, cfg.Workers)
	}
	if cfg.Similarity.Enabled && (cfg.Similarity.Threshold <= 0 || cfg.Similarity.Threshold > 1) {
		return fmt.Errorf("%w: similarity threshold must be in (0, 1], got %v", ErrInvalidConfig, cfg.Similarity.Threshold)
	}
	for _, side := range []Side{Old, New} {
		if _, err := cfg.Selection(side); err != nil {
			return err
		}
	}
	return nil
}

// Selection returns the symbol selection for one side.
func (cfg *Config) Selection(side Side) (*Selection, error) {
	sc := cfg.Old
	if side == New {
		sc = cfg.New
	}
	include, exclude := cfg.Include, cfg.Exclude
	if sc.Include != "" {
		include = sc.Include
	}
	if sc.Exclude != "" {
		exclude = sc.Exclude
	}
	s, err := NewSelection(include, exclude)
	if err != nil {
		return nil, fmt.Errorf("%s binary: %w", side, err)
	}
	return s, nil
}

// Options translates the configuration into comparison options.
func (cfg *Config) Options() ([]Option, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []Option{WithWorkers(cfg.Workers)}
	for _, side := range []Side{Old, New} {
		s, err := cfg.Selection(side)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSelection(side, s))
	}
	if cfg.Similarity.Enabled {
		opts = append(opts, WithSimilarity(cfg.Similarity.Threshold))
	}
	return opts, nil
}

// LoadConfig reads a YAML configuration file into cfg. Fields missing from
// the file keep their current values.
func LoadConfig(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return DecodeConfig(f, cfg)
}

// DecodeConfig decodes a YAML configuration into cfg. Unknown fields are an
// error.
func DecodeConfig(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
