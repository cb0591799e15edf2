package compiler

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/dxbc-bridge/errors"
)

// Config is the file form of compiler settings.
type Config struct {
	// Library is the path to the foreign compiler library.
	Library string `yaml:"library"`

	// IncludeDirs are searched in order for #include files.
	IncludeDirs []string `yaml:"include_dirs"`

	// Defines are preprocessor macros applied to every compile.
	Defines map[string]string `yaml:"defines"`

	// Flags are symbolic compile flag names, e.g. "debug" or
	// "warnings-are-errors".
	Flags []string `yaml:"flags"`

	// OptLevel selects the optimization level, 0 to 3. Defaults to 1,
	// the foreign compiler's own default.
	OptLevel int `yaml:"opt_level"`
}

var flagNames = map[string]CompileFlags{
	"debug":                   Debug,
	"skip-validation":         SkipValidation,
	"skip-optimization":       SkipOptimization,
	"matrix-row-major":        PackMatrixRowMajor,
	"matrix-column-major":     PackMatrixColumnMajor,
	"partial-precision":       PartialPrecision,
	"no-preshader":            NoPreshader,
	"avoid-flow-control":      AvoidFlowControl,
	"prefer-flow-control":     PreferFlowControl,
	"strict":                  EnableStrictness,
	"backwards-compatibility": EnableBackwardsCompatibility,
	"ieee-strictness":         IEEEStrictness,
	"warnings-are-errors":     WarningsAreErrors,
	"resources-may-alias":     ResourcesMayAlias,
	"unbounded-tables":        EnableUnboundedTables,
	"all-resources-bound":     AllResourcesBound,
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{OptLevel: 1}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.InvalidInput(errors.PhaseCompile, "config %s: %v", path, err)
	}
	if cfg.OptLevel < 0 || cfg.OptLevel > 3 {
		return nil, errors.InvalidInput(errors.PhaseCompile, "config %s: opt_level %d out of range", path, cfg.OptLevel)
	}
	for _, name := range cfg.Flags {
		if _, ok := flagNames[name]; !ok {
			return nil, errors.InvalidInput(errors.PhaseCompile, "config %s: unknown flag %q", path, name)
		}
	}
	return cfg, nil
}

// Options turns the config into per-call compile options.
func (c *Config) Options() Options {
	flags := OptimizationLevel(c.OptLevel)
	for _, name := range c.Flags {
		flags |= flagNames[name]
	}
	opts := Options{
		Flags:   flags,
		Defines: c.Defines,
	}
	if len(c.IncludeDirs) > 0 {
		opts.Include = NewFileSystemInclude(c.IncludeDirs...)
	}
	return opts
}
