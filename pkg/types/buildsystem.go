package types

// BuildSystem is the fixed set of build drivers that the pipeline
// knows how to run.
type BuildSystem string

// Known build systems.  Anything else parses to Custom.
const (
	Autotools      BuildSystem = "autotools"
	CMake          BuildSystem = "cmake"
	Meson          BuildSystem = "meson"
	Cargo          BuildSystem = "cargo"
	SetupScript    BuildSystem = "setup-script"
	CompilerDirect BuildSystem = "compiler-direct"
	Custom         BuildSystem = "custom"
)

var buildSystems = map[string]BuildSystem{
	"autotools":       Autotools,
	"autoconf":        Autotools,
	"gnu":             Autotools,
	"cmake":           CMake,
	"meson":           Meson,
	"cargo":           Cargo,
	"rust":            Cargo,
	"setup-script":    SetupScript,
	"python":          SetupScript,
	"compiler-direct": CompilerDirect,
	"custom":          Custom,
}

// ParseBuildSystem maps a descriptor value onto the enumeration.  The
// empty string is returned unchanged so that callers can tell "not
// declared" apart from "custom".
func ParseBuildSystem(s string) BuildSystem {
	if s == "" {
		return ""
	}
	if bs, ok := buildSystems[s]; ok {
		return bs
	}
	return Custom
}

// Stage is a step of a build transaction.
type Stage string

// Pipeline stages in execution order, followed by the installer's.
// StageLoading covers reading the descriptor before any build work.
const (
	StageLoading     Stage = "loading"
	StageFetching    Stage = "fetching"
	StageExtracting  Stage = "extracting"
	StagePatching    Stage = "patching"
	StageConfiguring Stage = "configuring"
	StageCompiling   Stage = "compiling"
	StagePackaging   Stage = "packaging"
	StageInstalling  Stage = "installing"
)

// Stages lists the pipeline stages in order.
var Stages = []Stage{
	StageFetching,
	StageExtracting,
	StagePatching,
	StageConfiguring,
	StageCompiling,
	StagePackaging,
}
