package verilator

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wippyai/vlsim/errors"
)

// DefaultCFlags are passed to the C++ compiler for every model. The glue
// supplies its own vl_finish, so VL_USER_FINISH is mandatory.
const DefaultCFlags = "-fPIC -DVL_USER_FINISH"

// Define is one preprocessor define, NAME or NAME=value.
type Define struct {
	Name     string
	Value    string
	HasValue bool
}

// ParseDefine parses "NAME" or "NAME=value".
func ParseDefine(s string) (Define, error) {
	name, value, has := strings.Cut(s, "=")
	if !validMacro(name) {
		return Define{}, errors.Precondition(errors.PhaseBuild, "invalid define %q", s)
	}
	return Define{Name: name, Value: value, HasValue: has}, nil
}

// Arg renders the define in verilator's +define+ syntax.
func (d Define) Arg() string {
	if d.HasValue {
		return "+define+" + d.Name + "=" + d.Value
	}
	return "+define+" + d.Name
}

func (d Define) String() string {
	if d.HasValue {
		return d.Name + "=" + d.Value
	}
	return d.Name
}

// Options configures one verilator invocation.
type Options struct {
	// Top is the top-level design file; its base name is the module name.
	Top string
	// Sources are additional design files compiled with Top.
	Sources     []string
	SearchPaths []string
	Defines     []Define
	BuildDir    string
	// TraceFormat is "vcd" or "fst".
	TraceFormat string
	// TraceDepth limits tracing below the top; 0 leaves verilator's default.
	TraceDepth int
	// CFlags replaces DefaultCFlags when non-empty.
	CFlags    string
	ExtraArgs []string
	// Glue is the generated C++ file compiled into the model.
	Glue string
}

// Args builds the verilator command line for opts.
func Args(opts Options) []string {
	args := []string{"-Wno-fatal", "-Mdir", opts.BuildDir}
	for _, dir := range opts.SearchPaths {
		args = append(args, "-y", dir)
	}
	for _, d := range opts.Defines {
		args = append(args, d.Arg())
	}

	cflags := opts.CFlags
	if cflags == "" {
		cflags = DefaultCFlags
	}
	args = append(args, "--CFLAGS", cflags)

	if opts.TraceFormat == "fst" {
		args = append(args, "--trace-fst")
	} else {
		args = append(args, "--trace")
	}
	if opts.TraceDepth > 0 {
		args = append(args, "--trace-depth", strconv.Itoa(opts.TraceDepth))
	}

	args = append(args, opts.ExtraArgs...)
	args = append(args, "--cc", opts.Top)
	args = append(args, opts.Sources...)
	args = append(args, "--exe", opts.Glue)
	return args
}

// ModuleName returns the module name implied by a top design file and
// checks its extension.
func ModuleName(top string) (string, error) {
	base := filepath.Base(top)
	ext := filepath.Ext(base)
	if ext != ".v" && ext != ".sv" {
		return "", errors.Precondition(errors.PhaseBuild, "top design file %q must end in .v or .sv", top)
	}
	name := strings.TrimSuffix(base, ext)
	if !validMacro(name) {
		return "", errors.Precondition(errors.PhaseBuild, "module name %q derived from %q is not an identifier", name, top)
	}
	return name, nil
}

// MakeArgs builds the make command line that links the model and glue
// into a shared object named V<module> in the build directory.
func MakeArgs(buildDir, module, cflags string, extra ...string) []string {
	if cflags == "" {
		cflags = DefaultCFlags
	}
	args := []string{
		"-C", buildDir,
		"-f", "V" + module + ".mk",
		"CFLAGS=" + cflags + " -shared",
		"LDFLAGS=-fPIC -shared",
	}
	return append(args, extra...)
}

// WASIMakeArgs builds the make command line that links the model and glue
// into a WASI reactor module with the WASI SDK installed at sdk. The
// result is still named V<module>; callers add the .wasm extension.
func WASIMakeArgs(buildDir, module, sdk, cflags string, extra ...string) []string {
	if cflags == "" {
		cflags = DefaultCFlags
	}
	cxx := filepath.Join(sdk, "bin", "clang++") +
		" --target=wasm32-wasi --sysroot=" + filepath.Join(sdk, "share", "wasi-sysroot")
	args := []string{
		"-C", buildDir,
		"-f", "V" + module + ".mk",
		"CXX=" + cxx,
		"LINK=" + cxx,
		"AR=" + filepath.Join(sdk, "bin", "llvm-ar"),
		"CFLAGS=" + cflags + " -fno-exceptions -D_WASI_EMULATED_SIGNAL",
		"LDFLAGS=" + WASILinkFlags,
	}
	return append(args, extra...)
}

// WASILinkFlags export the allocator and every glue entry point from a
// reactor module.
const WASILinkFlags = "-mexec-model=reactor -lwasi-emulated-signal -Wl,--export-dynamic -Wl,--export=malloc -Wl,--export=free"

// Artifact returns the path make produces for module.
func Artifact(buildDir, module string) string {
	return filepath.Join(buildDir, "V"+module)
}

func validMacro(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
