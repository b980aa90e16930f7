// Package loader turns Verilog sources into a running simulation. It
// drives verilator, generates and compiles the glue, and opens the
// resulting artifact with the backend matching its format.
//
// Every precondition and tool lookup is checked before anything is
// written to disk.
package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/buildcache"
	"github.com/wippyai/vlsim/errors"
	"github.com/wippyai/vlsim/glue"
	"github.com/wippyai/vlsim/glue/lint"
	"github.com/wippyai/vlsim/native"
	"github.com/wippyai/vlsim/sim"
	"github.com/wippyai/vlsim/verilator"
	"github.com/wippyai/vlsim/wasmmodel"
)

// Result describes a finished build.
type Result struct {
	Module   string
	BuildDir string
	// Glue is the generated source; empty on a cache hit.
	Glue string
	// Artifact is empty for GenOnly builds.
	Artifact         string
	Cached           bool
	VerilatorVersion string
	Signals          verilator.Signals
}

// Build compiles the design and loads the artifact.
func Build(ctx context.Context, opts Options) (*sim.Simulation, error) {
	if opts.GenOnly {
		return nil, errors.Precondition(errors.PhaseBuild, "gen-only builds produce no artifact")
	}
	res, err := Compile(ctx, opts)
	if err != nil {
		return nil, err
	}
	return Load(ctx, res.Artifact, opts.simOptions()...)
}

// Compile runs verilator, writes the glue and, unless GenOnly is set,
// links the artifact. With a cache configured, an identical earlier
// build is reused.
func Compile(ctx context.Context, opts Options) (*Result, error) {
	module, defines, err := checkInputs(&opts)
	if err != nil {
		return nil, err
	}

	tool, err := verilator.Find(opts.Verilator)
	if err != nil {
		return nil, err
	}
	var mk *verilator.Tool
	if !opts.GenOnly {
		if mk, err = findMake(opts); err != nil {
			return nil, err
		}
	}
	ver, err := tool.Version(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Module:           module,
		BuildDir:         opts.BuildDir,
		VerilatorVersion: ver.Original(),
	}

	var cache *buildcache.Cache
	var key string
	if opts.CachePath != "" && !opts.GenOnly {
		if cache, err = buildcache.Open(ctx, opts.CachePath); err != nil {
			return nil, err
		}
		defer cache.Close()
		key, err = buildcache.Key(buildcache.KeyInput{
			Files:            append([]string{opts.Top}, opts.Sources...),
			SearchPaths:      opts.SearchPaths,
			Defines:          opts.Defines,
			ExtraArgs:        append(append([]string(nil), opts.ExtraArgs...), opts.CFlags),
			TraceFormat:      opts.traceFormat(),
			TraceDepth:       opts.TraceDepth,
			Target:           opts.target(),
			JSON:             opts.JSON,
			VerilatorVersion: res.VerilatorVersion,
			GlueVersion:      glue.Version,
		})
		if err != nil {
			return nil, err
		}
		if e, ok, err := cache.Lookup(ctx, key); err != nil {
			return nil, err
		} else if ok {
			Logger().Debug("cache hit", zap.String("module", module), zap.String("artifact", e.Path))
			res.Artifact = e.Path
			res.Cached = true
			return res, nil
		}
	}

	if err := os.MkdirAll(opts.BuildDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseBuild, errors.KindPrecondition, err, "create build directory")
	}
	if res.Glue, err = filepath.Abs(filepath.Join(opts.BuildDir, GlueFile)); err != nil {
		return nil, errors.Wrap(errors.PhaseBuild, errors.KindPrecondition, err, "glue path")
	}

	vopts := verilator.Options{
		Top:         opts.Top,
		Sources:     opts.Sources,
		SearchPaths: opts.SearchPaths,
		Defines:     defines,
		BuildDir:    opts.BuildDir,
		TraceFormat: opts.traceFormat(),
		TraceDepth:  opts.TraceDepth,
		CFlags:      opts.CFlags,
		ExtraArgs:   opts.ExtraArgs,
		Glue:        res.Glue,
	}
	if _, err := tool.Run(ctx, "", verilator.Args(vopts)...); err != nil {
		return nil, err
	}

	sigs, viaRoot, err := verilator.ScanBuildDir(opts.BuildDir, module)
	if err != nil {
		return nil, err
	}
	res.Signals = sigs
	Logger().Debug("scanned headers",
		zap.String("module", module),
		zap.Int("inputs", len(sigs.Inputs)),
		zap.Int("outputs", len(sigs.Outputs)),
		zap.Int("internals", len(sigs.Internals)),
		zap.Bool("via_root", viaRoot))

	if err := glue.Validate(sigs.Inputs, sigs.Outputs, sigs.Internals); err != nil {
		return nil, err
	}
	src, err := glue.Generate(glue.Options{
		Module:           module,
		Inputs:           sigs.Inputs,
		Outputs:          sigs.Outputs,
		Internals:        sigs.Internals,
		InternalsViaRoot: viaRoot,
		JSON:             opts.JSON,
		TraceFormat:      opts.traceFormat(),
		FlushCall:        verilator.FlushCallOK(ver),
	})
	if err != nil {
		return nil, err
	}
	if opts.VerifyGlue {
		if err := lint.Check(ctx, []byte(src)); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(res.Glue, []byte(src), 0o644); err != nil {
		return nil, errors.Wrap(errors.PhaseGenerate, errors.KindPrecondition, err, "write glue")
	}
	if opts.GenOnly {
		return res, nil
	}

	if err := link(ctx, mk, opts, module, res); err != nil {
		return nil, err
	}

	if cache != nil {
		e, err := cache.Store(ctx, buildcache.Entry{
			Key:              key,
			Module:           module,
			VerilatorVersion: res.VerilatorVersion,
			Target:           opts.target(),
			BuiltAt:          time.Now(),
		}, res.Artifact)
		if err != nil {
			Logger().Warn("record build", zap.String("module", module), zap.Error(err))
		} else {
			res.Artifact = e.Path
		}
	}
	return res, nil
}

func link(ctx context.Context, mk *verilator.Tool, opts Options, module string, res *Result) error {
	var args []string
	if opts.target() == TargetWASI {
		args = verilator.WASIMakeArgs(opts.BuildDir, module, opts.WASISDK, opts.CFlags)
	} else {
		args = verilator.MakeArgs(opts.BuildDir, module, opts.CFlags)
	}
	if _, err := mk.Run(ctx, "", args...); err != nil {
		return err
	}

	artifact := verilator.Artifact(opts.BuildDir, module)
	if _, err := os.Stat(artifact); err != nil {
		return errors.New(errors.PhaseBuild, errors.KindBuildFailed).
			Path(artifact).
			Command(mk.Name).
			Cause(err).
			Detail("make produced no artifact").
			Build()
	}
	if opts.target() == TargetWASI {
		wasm := artifact + ".wasm"
		if err := os.Rename(artifact, wasm); err != nil {
			return errors.Wrap(errors.PhaseBuild, errors.KindBuildFailed, err, "rename artifact")
		}
		artifact = wasm
	}
	abs, err := filepath.Abs(artifact)
	if err != nil {
		return errors.Wrap(errors.PhaseBuild, errors.KindPrecondition, err, "artifact path")
	}
	res.Artifact = abs
	Logger().Debug("linked", zap.String("module", module), zap.String("artifact", abs))
	return nil
}

func findMake(opts Options) (*verilator.Tool, error) {
	name := opts.Make
	if name == "" {
		name = "make"
	}
	mk, err := verilator.Find(name)
	if err != nil {
		return nil, err
	}
	if opts.target() != TargetWASI {
		return mk, nil
	}
	if opts.WASISDK == "" {
		return nil, errors.New(errors.PhaseBuild, errors.KindToolNotFound).
			Command("wasi-sdk").
			Detail("wasi target needs the WASI SDK location").
			Build()
	}
	if _, err := verilator.Find(filepath.Join(opts.WASISDK, "bin", "clang++")); err != nil {
		return nil, err
	}
	return mk, nil
}

// checkInputs validates opts and fills defaults. It returns the module
// name and the parsed defines.
func checkInputs(opts *Options) (string, []verilator.Define, error) {
	if opts.Top == "" {
		return "", nil, errors.Precondition(errors.PhaseBuild, "no top design file")
	}
	module, err := verilator.ModuleName(opts.Top)
	if err != nil {
		return "", nil, err
	}
	for _, path := range append([]string{opts.Top}, opts.Sources...) {
		fi, err := os.Stat(path)
		if err != nil || fi.IsDir() {
			return "", nil, errors.New(errors.PhaseBuild, errors.KindPrecondition).
				Path(path).
				Cause(err).
				Detail("design file not found").
				Build()
		}
	}
	for _, dir := range opts.SearchPaths {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			return "", nil, errors.New(errors.PhaseBuild, errors.KindPrecondition).
				Path(dir).
				Cause(err).
				Detail("search path is not a directory").
				Build()
		}
	}

	defines := make([]verilator.Define, 0, len(opts.Defines))
	for _, s := range opts.Defines {
		d, err := verilator.ParseDefine(s)
		if err != nil {
			return "", nil, err
		}
		defines = append(defines, d)
	}

	switch opts.target() {
	case TargetNative, TargetWASI:
	default:
		return "", nil, errors.Precondition(errors.PhaseBuild, "unknown target %q", opts.Target)
	}
	switch opts.traceFormat() {
	case glue.TraceVCD, glue.TraceFST:
	default:
		return "", nil, errors.Precondition(errors.PhaseBuild, "unknown trace format %q", opts.TraceFormat)
	}
	if opts.TraceDepth < 0 {
		return "", nil, errors.Precondition(errors.PhaseBuild, "trace depth %d is negative", opts.TraceDepth)
	}
	if opts.BuildDir == "" {
		opts.BuildDir = "obj_dir"
	}
	return module, defines, nil
}

// Load opens an existing artifact and constructs a simulation over it.
func Load(ctx context.Context, path string, opts ...sim.Option) (*sim.Simulation, error) {
	lib, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return sim.New(lib, opts...)
}

// Open loads the artifact at path with the backend for its format:
// wazero for .wasm files, dlopen otherwise.
func Open(ctx context.Context, path string) (abi.Library, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindPrecondition, err, "artifact path")
	}
	if strings.EqualFold(filepath.Ext(abs), ".wasm") {
		l, err := wasmmodel.Open(ctx, abs)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	l, err := native.Open(abs)
	if err != nil {
		return nil, err
	}
	return l, nil
}
