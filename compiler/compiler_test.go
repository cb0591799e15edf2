package compiler_test

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/dxbc-bridge/compiler"
	"github.com/wippyai/dxbc-bridge/errors"
)

func TestOptimizationLevels(t *testing.T) {
	cases := []struct {
		level int
		want  compiler.CompileFlags
	}{
		{0, compiler.OptimizationLevel0},
		{1, 0},
		{2, compiler.OptimizationLevel2},
		{3, compiler.OptimizationLevel3},
		{-1, 0},
		{9, 0},
	}
	for _, c := range cases {
		if got := compiler.OptimizationLevel(c.level); got != c.want {
			t.Errorf("OptimizationLevel(%d) = %#x, want %#x", c.level, got, c.want)
		}
	}

	// level 2 sets both bits, so it must contain levels 0 and 3
	if compiler.OptimizationLevel2&compiler.OptimizationLevel0 == 0 {
		t.Error("level 2 should include the level 0 bit")
	}
	if compiler.OptimizationLevel2&compiler.OptimizationLevel3 == 0 {
		t.Error("level 2 should include the level 3 bit")
	}
}

func TestFlagComposition(t *testing.T) {
	flags := compiler.Debug | compiler.SkipOptimization | compiler.WarningsAreErrors
	if uint32(flags) != (1<<0)|(1<<2)|(1<<18) {
		t.Errorf("flags = %#x", uint32(flags))
	}
}

func TestParseTarget(t *testing.T) {
	for _, s := range []string{"vs_4_0", "ps_5_0", "gs_4_1", "hs_5_0", "ds_5_0", "cs_5_1"} {
		tgt, err := compiler.ParseTarget(s)
		if err != nil {
			t.Errorf("ParseTarget(%q): %v", s, err)
		}
		if tgt.String() != s {
			t.Errorf("round trip %q -> %q", s, tgt)
		}
	}

	tgt, err := compiler.ParseTarget("vs_5_0")
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Stage() != "vertex" || tgt.Model() != "5_0" {
		t.Errorf("stage=%q model=%q", tgt.Stage(), tgt.Model())
	}

	for _, s := range []string{"", "xx_5_0", "vs", "vs_9_9", "vs_50", "pixel_5_0"} {
		if _, err := compiler.ParseTarget(s); !stderrors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("ParseTarget(%q) should fail with invalid input, got %v", s, err)
		}
	}
}

func TestFileSystemIncludeSearchOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	if err := os.WriteFile(filepath.Join(first, "common.hlsli"), []byte("// first"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(second, "common.hlsli"), []byte("// second"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(second, "only.hlsli"), []byte("// only"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := compiler.NewFileSystemInclude(first, second)

	data, err := h.Open(compiler.IncludeLocal, "common.hlsli")
	if err != nil || string(data) != "// first" {
		t.Errorf("Open common: %q, %v", data, err)
	}
	data, err = h.Open(compiler.IncludeSystem, "only.hlsli")
	if err != nil || string(data) != "// only" {
		t.Errorf("Open only: %q, %v", data, err)
	}
	if _, err := h.Open(compiler.IncludeLocal, "missing.hlsli"); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("missing include: %v", err)
	}
}

func TestMapInclude(t *testing.T) {
	m := compiler.MapInclude{"lights.hlsli": "#define MAX_LIGHTS 4"}

	data, err := m.Open(compiler.IncludeLocal, "lights.hlsli")
	if err != nil || string(data) != "#define MAX_LIGHTS 4" {
		t.Errorf("Open: %q, %v", data, err)
	}
	if _, err := m.Open(compiler.IncludeLocal, "other.hlsli"); err == nil {
		t.Error("unknown include should fail")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dxbc.yaml")
	src := `
library: /opt/compilers/d3dcompiler_47.dll
include_dirs:
  - shaders/include
defines:
  USE_FOG: "1"
flags:
  - debug
  - warnings-are-errors
opt_level: 3
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := compiler.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Library != "/opt/compilers/d3dcompiler_47.dll" {
		t.Errorf("library = %q", cfg.Library)
	}

	opts := cfg.Options()
	want := compiler.Debug | compiler.WarningsAreErrors | compiler.OptimizationLevel3
	if opts.Flags != want {
		t.Errorf("flags = %#x, want %#x", opts.Flags, want)
	}
	if opts.Defines["USE_FOG"] != "1" {
		t.Errorf("defines = %v", opts.Defines)
	}
	if opts.Include == nil {
		t.Error("include dirs should produce a handler")
	}
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "flags.yaml")
	os.WriteFile(bad, []byte("flags: [warp-speed]"), 0o644)
	if _, err := compiler.LoadConfig(bad); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("unknown flag name: %v", err)
	}

	bad = filepath.Join(dir, "opt.yaml")
	os.WriteFile(bad, []byte("opt_level: 7"), 0o644)
	if _, err := compiler.LoadConfig(bad); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("out of range opt level: %v", err)
	}

	if _, err := compiler.LoadConfig(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestCompileSurfacesMissingLibraryLazily(t *testing.T) {
	c := compiler.New(filepath.Join(t.TempDir(), "d3dcompiler_47.dll"), nil)
	defer c.Close()

	// construction must not have touched the library; the load failure
	// belongs to the first compile
	_, _, err := c.Compile([]byte("float4 main() : SV_Target { return 0; }"), "main", "ps_5_0", compiler.Options{})
	if !stderrors.Is(err, errors.ErrLibraryNotFound) {
		t.Fatalf("expected library not found, got %v", err)
	}

	// and it stays failed rather than retrying the load
	_, _, err = c.Preprocess([]byte("x"), compiler.Options{})
	if !stderrors.Is(err, errors.ErrLibraryNotFound) {
		t.Fatalf("second call: %v", err)
	}
}
