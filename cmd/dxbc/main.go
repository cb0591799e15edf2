package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wippyai/dxbc-bridge/compiler"
	"github.com/wippyai/dxbc-bridge/dxbc"
	"github.com/wippyai/dxbc-bridge/errors"
)

const defaultLibrary = "d3dcompiler_47.dll"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "compile":
		err = cmdCompile(os.Args[2:])
	case "preprocess":
		err = cmdPreprocess(os.Args[2:])
	case "disasm":
		err = cmdDisasm(os.Args[2:])
	case "reflect":
		err = cmdReflect(os.Args[2:])
	case "info":
		err = cmdInfo(os.Args[2:])
	case "strip":
		err = cmdStrip(os.Args[2:])
	case "inspect":
		err = cmdInspect(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		// compile diagnostics pass through exactly as the compiler
		// produced them
		var e *errors.Error
		if stderrors.As(err, &e) && e.Diagnostics != "" {
			fmt.Fprint(os.Stderr, e.Diagnostics)
			if !strings.HasSuffix(e.Diagnostics, "\n") {
				fmt.Fprintln(os.Stderr)
			}
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: dxbc <command> [flags] <file>

Commands:
  compile     compile HLSL source to shader bytecode
  preprocess  run only the preprocessor over HLSL source
  disasm      disassemble a shader binary
  reflect     print reflection data of a shader binary
  info        print the chunk directory of a shader binary
  strip       remove chunk categories from a shader binary
  inspect     interactive chunk inspector

Run 'dxbc <command> -h' for command flags.`)
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func cmdCompile(args []string) error {
	fs := pflag.NewFlagSet("compile", pflag.ExitOnError)
	entry := fs.StringP("entry", "e", "main", "Entry point function name")
	target := fs.StringP("target", "t", "", "Target profile, e.g. ps_5_0")
	out := fs.StringP("output", "o", "", "Output file (default: stdout as hex summary)")
	library := fs.String("library", defaultLibrary, "Path to the compiler library")
	configPath := fs.String("config", "", "YAML config file")
	includes := fs.StringSliceP("include", "I", nil, "Include search directories")
	defines := fs.StringSliceP("define", "D", nil, "Preprocessor defines (NAME or NAME=VALUE)")
	optLevel := fs.IntP("opt", "O", 1, "Optimization level (0-3)")
	debug := fs.Bool("debug", false, "Embed debug info")
	werror := fs.Bool("werror", false, "Treat warnings as errors")
	verbose := fs.BoolP("verbose", "v", false, "Verbose logging")
	fs.Parse(args)

	if fs.NArg() != 1 || *target == "" {
		return fmt.Errorf("usage: dxbc compile -t <target> [-e entry] [-o out] <source.hlsl>")
	}

	tgt, err := compiler.ParseTarget(*target)
	if err != nil {
		return err
	}
	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	libPath, opts, err := buildOptions(*configPath, *library, *includes, *defines)
	if err != nil {
		return err
	}
	opts.SourceName = fs.Arg(0)
	if fs.Changed("opt") || *configPath == "" {
		opts.Flags &^= compiler.OptimizationLevel0 | compiler.OptimizationLevel3
		opts.Flags |= compiler.OptimizationLevel(*optLevel)
	}
	if *debug {
		opts.Flags |= compiler.Debug | compiler.SkipOptimization
	}
	if *werror {
		opts.Flags |= compiler.WarningsAreErrors
	}

	c := compiler.New(libPath, newLogger(*verbose))
	defer c.Close()

	code, diagnostics, err := c.Compile(source, *entry, tgt, opts)
	if err != nil {
		return err
	}
	if diagnostics != "" {
		fmt.Fprint(os.Stderr, diagnostics)
	}

	if *out != "" {
		return os.WriteFile(*out, code.Bytes(), 0o644)
	}
	return describeBinary(code.Bytes())
}

func cmdPreprocess(args []string) error {
	fs := pflag.NewFlagSet("preprocess", pflag.ExitOnError)
	out := fs.StringP("output", "o", "", "Output file (default: stdout)")
	library := fs.String("library", defaultLibrary, "Path to the compiler library")
	configPath := fs.String("config", "", "YAML config file")
	includes := fs.StringSliceP("include", "I", nil, "Include search directories")
	defines := fs.StringSliceP("define", "D", nil, "Preprocessor defines (NAME or NAME=VALUE)")
	verbose := fs.BoolP("verbose", "v", false, "Verbose logging")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dxbc preprocess [-o out] <source.hlsl>")
	}

	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	libPath, opts, err := buildOptions(*configPath, *library, *includes, *defines)
	if err != nil {
		return err
	}
	opts.SourceName = fs.Arg(0)

	c := compiler.New(libPath, newLogger(*verbose))
	defer c.Close()

	text, diagnostics, err := c.Preprocess(source, opts)
	if err != nil {
		return err
	}
	if diagnostics != "" {
		fmt.Fprint(os.Stderr, diagnostics)
	}

	if *out != "" {
		return os.WriteFile(*out, []byte(text), 0o644)
	}
	fmt.Print(text)
	return nil
}

// buildOptions merges the config file, when given, with command line
// flags. Flags win over the file.
func buildOptions(configPath, library string, includes, defines []string) (string, compiler.Options, error) {
	var opts compiler.Options
	libPath := library

	if configPath != "" {
		cfg, err := compiler.LoadConfig(configPath)
		if err != nil {
			return "", opts, err
		}
		opts = cfg.Options()
		if cfg.Library != "" && library == defaultLibrary {
			libPath = cfg.Library
		}
	}

	if len(includes) > 0 {
		opts.Include = compiler.NewFileSystemInclude(includes...)
	}
	if len(defines) > 0 {
		if opts.Defines == nil {
			opts.Defines = make(map[string]string, len(defines))
		}
		for _, d := range defines {
			name, value, ok := strings.Cut(d, "=")
			if !ok {
				value = "1"
			}
			opts.Defines[name] = value
		}
	}
	return libPath, opts, nil
}

func loadContainer(path string) (*dxbc.Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return dxbc.Decode(data)
}

func cmdDisasm(args []string) error {
	fs := pflag.NewFlagSet("disasm", pflag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dxbc disasm <file>")
	}

	c, err := loadContainer(fs.Arg(0))
	if err != nil {
		return err
	}
	text, err := dxbc.Disassemble(c)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

func cmdReflect(args []string) error {
	fs := pflag.NewFlagSet("reflect", pflag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dxbc reflect <file>")
	}

	c, err := loadContainer(fs.Arg(0))
	if err != nil {
		return err
	}
	text, err := dxbc.Reflect(c)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

func cmdInfo(args []string) error {
	fs := pflag.NewFlagSet("info", pflag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dxbc info <file>")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	return describeBinary(data)
}

func describeBinary(data []byte) error {
	c, err := dxbc.Decode(data)
	if err != nil {
		return err
	}
	fmt.Print(dxbc.Describe(c))
	return nil
}

func cmdStrip(args []string) error {
	fs := pflag.NewFlagSet("strip", pflag.ExitOnError)
	out := fs.StringP("output", "o", "", "Output file (required)")
	debug := fs.Bool("debug", true, "Strip debug info chunks")
	reflection := fs.Bool("reflection", false, "Strip reflection chunks")
	private := fs.Bool("private", false, "Strip private data chunks")
	rootsig := fs.Bool("rootsig", false, "Strip the root signature chunk")
	fs.Parse(args)

	if fs.NArg() != 1 || *out == "" {
		return fmt.Errorf("usage: dxbc strip -o <out> <file>")
	}

	c, err := loadContainer(fs.Arg(0))
	if err != nil {
		return err
	}

	var flags dxbc.StripFlags
	if *debug {
		flags |= dxbc.StripDebugInfo
	}
	if *reflection {
		flags |= dxbc.StripReflectionData
	}
	if *private {
		flags |= dxbc.StripPrivateData
	}
	if *rootsig {
		flags |= dxbc.StripRootSignature
	}

	stripped := c.StripWithFlags(flags)
	return os.WriteFile(*out, stripped.Encode(), 0o644)
}

func cmdInspect(args []string) error {
	fs := pflag.NewFlagSet("inspect", pflag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dxbc inspect <file>")
	}
	return runInteractive(fs.Arg(0))
}
