// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// LoadOptions names the sources Load layers over the defaults.
type LoadOptions struct {
	// File is a YAML config file. Empty skips the file layer.
	File string
	// Flags are consulted only for flags the user set explicitly.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys, e.g. "addr" to "http.addr".
	// Flags without an entry are ignored.
	FlagKeys map[string]string
	// Environ replaces the process environment, mainly for tests.
	Environ map[string]string
	// SkipValidation returns the merged config without calling Validate.
	// Tools that need only part of it, such as the migrator, check the
	// fields they use themselves.
	SkipValidation bool
}

// Load builds the effective configuration and validates it.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if opts.File != "" {
		if err := loadFile(k, opts.File); err != nil {
			return Config{}, err
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "merge").Wrap(err)
	}

	envOpts := env.Options{Prefix: EnvPrefix, Environment: opts.Environ}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}

	if opts.SkipValidation {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	if err := ValidateYAML(data); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", path).Wrap(err)
	}
	return nil
}

// ValidateFile checks a config file against the schema without loading it.
func ValidateFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	return oops.With("path", path).Wrap(ValidateYAML(data))
}
