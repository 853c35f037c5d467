// Package config loads per-project settings from tmplhint.hcl.
package config

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

// FileName is the per-project configuration file, looked up from the
// document's directory upward.
const FileName = "tmplhint.hcl"

// Config is the project configuration. Zero values mean defaults: every
// .hbs document is covered, interop with sibling Go sources is on.
type Config struct {
	// Templates restricts coverage to documents matching these doublestar
	// globs, relative to the config file's directory.
	Templates []string `hcl:"templates,optional"`

	// ScriptInterop toggles binding templates to sibling Go declarations.
	// Off means every document is treated as template-only.
	ScriptInterop *bool `hcl:"script_interop,optional"`

	// AmbientThis names the type backing `this` in template-only
	// documents.
	AmbientThis string `hcl:"ambient_this,optional"`
}

// Default returns the configuration used when no tmplhint.hcl exists.
func Default() *Config {
	return &Config{}
}

// Interop reports whether sibling Go binding is enabled.
func (c *Config) Interop() bool {
	return c.ScriptInterop == nil || *c.ScriptInterop
}

// Covers reports whether a document path falls under this configuration.
func (c *Config) Covers(path string) bool {
	slashed := filepath.ToSlash(path)
	if len(c.Templates) == 0 {
		return filepath.Ext(slashed) == ".hbs"
	}
	for _, pattern := range c.Templates {
		if ok, err := doublestar.Match(pattern, slashed); err == nil && ok {
			return true
		}
	}
	return false
}

// Load parses a tmplhint.hcl file.
func Load(fsys afero.Fs, path string) (*Config, error) {
	src, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, errors.Errorf("reading config %q: %w", path, err)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, path)
	if diags.HasErrors() {
		return nil, errors.Errorf("parsing config %q: %w", path, diags)
	}

	cfg := Default()
	if diags := gohcl.DecodeBody(file.Body, nil, cfg); diags.HasErrors() {
		return nil, errors.Errorf("decoding config %q: %w", path, diags)
	}
	return cfg, nil
}

// Find walks from dir toward the filesystem root looking for tmplhint.hcl.
// It returns the defaults and an empty path when none exists.
func Find(fsys afero.Fs, dir string) (*Config, string, error) {
	for {
		candidate := filepath.Join(dir, FileName)
		ok, err := afero.Exists(fsys, candidate)
		if err != nil {
			return nil, "", errors.Errorf("probing for config in %q: %w", dir, err)
		}
		if ok {
			cfg, err := Load(fsys, candidate)
			if err != nil {
				return nil, "", err
			}
			return cfg, candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), "", nil
		}
		dir = parent
	}
}
