package compiler

import (
	"strings"

	"github.com/wippyai/dxbc-bridge/errors"
)

// Target names a shader stage and model, e.g. "vs_5_0". The string form
// passes to the foreign compiler verbatim.
type Target string

var targetStages = map[string]string{
	"vs": "vertex",
	"ps": "pixel",
	"gs": "geometry",
	"hs": "hull",
	"ds": "domain",
	"cs": "compute",
}

var targetModels = map[string]bool{
	"4_0": true,
	"4_1": true,
	"5_0": true,
	"5_1": true,
}

// ParseTarget validates a profile string.
func ParseTarget(s string) (Target, error) {
	stage, model, ok := strings.Cut(s, "_")
	if !ok || targetStages[stage] == "" {
		return "", errors.InvalidInput(errors.PhaseCompile, "unknown shader stage in target %q", s)
	}
	if !targetModels[model] {
		return "", errors.InvalidInput(errors.PhaseCompile, "unsupported shader model in target %q", s)
	}
	return Target(s), nil
}

// Stage returns the long stage name, e.g. "vertex" for vs targets.
func (t Target) Stage() string {
	stage, _, _ := strings.Cut(string(t), "_")
	return targetStages[stage]
}

// Model returns the shader model suffix, e.g. "5_0".
func (t Target) Model() string {
	_, model, _ := strings.Cut(string(t), "_")
	return model
}

func (t Target) String() string { return string(t) }
