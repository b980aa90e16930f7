package loader

import (
	"github.com/wippyai/vlsim/config"
	"github.com/wippyai/vlsim/sim"
)

// Build targets.
const (
	TargetNative = "native"
	TargetWASI   = "wasi"
)

// GlueFile is the name of the generated glue inside the build directory.
const GlueFile = "vlsim_glue.cpp"

// Options describes one build.
type Options struct {
	// Top is the top-level design file. Its base name without the .v or
	// .sv extension is the module name.
	Top         string
	Sources     []string
	SearchPaths []string
	// Defines are NAME or NAME=value.
	Defines   []string
	BuildDir  string
	ExtraArgs []string
	// CFlags replaces verilator.DefaultCFlags when non-empty.
	CFlags string
	// JSON is embedded in the artifact verbatim.
	JSON []byte

	TraceFormat string
	TraceDepth  int

	// Target is TargetNative (default) or TargetWASI.
	Target string

	Verilator string
	Make      string
	WASISDK   string

	// VerifyGlue parses the generated glue before compiling it.
	VerifyGlue bool
	// GenOnly stops after the glue is written.
	GenOnly bool
	// CachePath enables the artifact index at that path.
	CachePath string

	// CommandArgs and SimOptions apply when the artifact is loaded.
	CommandArgs []string
	SimOptions  []sim.Option
}

// FromProject maps a project file onto build options.
func FromProject(p *config.Project) Options {
	opts := Options{
		Top:         p.Top,
		Sources:     p.Sources,
		SearchPaths: p.SearchPaths,
		Defines:     p.Defines,
		BuildDir:    p.BuildDir,
		ExtraArgs:   p.ExtraArgs,
		JSON:        p.JSON(),
		TraceFormat: p.Trace.Format,
		TraceDepth:  p.Trace.Depth,
		Target:      p.Target,
		Verilator:   p.Tools.Verilator,
		Make:        p.Tools.Make,
		WASISDK:     p.Tools.WASISDK,
		VerifyGlue:  p.VerifyGlue,
		CommandArgs: p.CommandArgs,
		SimOptions:  []sim.Option{sim.WithAutoEval(p.AutoEval)},
	}
	if p.Cache.Enabled {
		opts.CachePath = p.Cache.Path
	}
	return opts
}

func (o *Options) target() string {
	if o.Target == "" {
		return TargetNative
	}
	return o.Target
}

func (o *Options) traceFormat() string {
	if o.TraceFormat == "" {
		return "vcd"
	}
	return o.TraceFormat
}

func (o *Options) simOptions() []sim.Option {
	out := append([]sim.Option(nil), o.SimOptions...)
	if len(o.CommandArgs) > 0 {
		out = append(out, sim.WithCommandArgs(o.CommandArgs))
	}
	return out
}
