package compiler

// CompileFlags mirror the foreign compiler's flag word. They pass
// through to the library unchanged, so the values are fixed by its ABI.
type CompileFlags uint32

const (
	Debug                        CompileFlags = 1 << 0
	SkipValidation               CompileFlags = 1 << 1
	SkipOptimization             CompileFlags = 1 << 2
	PackMatrixRowMajor           CompileFlags = 1 << 3
	PackMatrixColumnMajor        CompileFlags = 1 << 4
	PartialPrecision             CompileFlags = 1 << 5
	NoPreshader                  CompileFlags = 1 << 8
	AvoidFlowControl             CompileFlags = 1 << 9
	PreferFlowControl            CompileFlags = 1 << 10
	EnableStrictness             CompileFlags = 1 << 11
	EnableBackwardsCompatibility CompileFlags = 1 << 12
	IEEEStrictness               CompileFlags = 1 << 13
	WarningsAreErrors            CompileFlags = 1 << 18
	ResourcesMayAlias            CompileFlags = 1 << 19
	EnableUnboundedTables        CompileFlags = 1 << 20
	AllResourcesBound            CompileFlags = 1 << 21

	// optimization levels occupy two non-adjacent bits
	OptimizationLevel0 CompileFlags = 1 << 14
	OptimizationLevel1 CompileFlags = 0
	OptimizationLevel2 CompileFlags = (1 << 14) | (1 << 15)
	OptimizationLevel3 CompileFlags = 1 << 15
)

// OptimizationLevel maps 0..3 onto the flag encoding.
func OptimizationLevel(level int) CompileFlags {
	switch level {
	case 0:
		return OptimizationLevel0
	case 2:
		return OptimizationLevel2
	case 3:
		return OptimizationLevel3
	}
	return OptimizationLevel1
}

// Options carries everything a compile call accepts beyond source,
// entry point, and target.
type Options struct {
	Flags   CompileFlags
	Defines map[string]string
	Include IncludeHandler

	// SourceName labels the source in diagnostics. Defaults to
	// "shader.hlsl".
	SourceName string
}

func (o Options) sourceName() string {
	if o.SourceName == "" {
		return "shader.hlsl"
	}
	return o.SourceName
}
