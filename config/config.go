// Package config loads vlsim project files.
//
// A project file is YAML (vlsim.yaml by default). Values are layered:
// defaults, then the file, then environment overrides. The result is
// validated against an embedded CUE schema before use.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/vlsim/errors"
)

// FileName is the project file looked up by Find.
const FileName = "vlsim.yaml"

// Environment variables consulted by ApplyEnv.
const (
	EnvBuildDir  = "VLSIM_BUILD_DIR"
	EnvVerilator = "VLSIM_VERILATOR"
	EnvMake      = "VLSIM_MAKE"
	EnvGTKWave   = "VLSIM_GTKWAVE"
	EnvWASISDK   = "WASI_SDK_PATH"
)

// Project describes how to build and run one design.
type Project struct {
	// Top is the top-level design file; its base name is the module name.
	Top string `json:"top" yaml:"top"`

	// Sources are extra design files passed alongside Top.
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`

	// SearchPaths are module search directories (-y).
	SearchPaths []string `json:"search_paths,omitempty" yaml:"search_paths,omitempty"`

	// Defines are preprocessor defines, NAME or NAME=value.
	Defines []string `json:"defines,omitempty" yaml:"defines,omitempty"`

	BuildDir string `json:"build_dir" yaml:"build_dir"`

	// ExtraArgs are appended to the verilator command line.
	ExtraArgs []string `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`

	// CommandArgs are handed to the model as plusargs.
	CommandArgs []string `json:"command_args,omitempty" yaml:"command_args,omitempty"`

	// JSONData is embedded in the artifact verbatim.
	JSONData string `json:"json_data,omitempty" yaml:"json_data,omitempty"`

	Trace TraceConfig `json:"trace" yaml:"trace"`

	// Target is "native" (shared object) or "wasi" (WebAssembly module).
	Target string `json:"target" yaml:"target"`

	// AutoEval evaluates the model after every input write.
	AutoEval bool `json:"auto_eval" yaml:"auto_eval"`

	// VerifyGlue parses the generated glue before compiling it.
	VerifyGlue bool `json:"verify_glue" yaml:"verify_glue"`

	Cache CacheConfig `json:"cache" yaml:"cache"`
	Tools ToolsConfig `json:"tools" yaml:"tools"`
}

// TraceConfig selects the waveform format and depth.
type TraceConfig struct {
	Format string `json:"format" yaml:"format"`
	Depth  int    `json:"depth" yaml:"depth"`
}

// CacheConfig controls the artifact index.
type CacheConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// ToolsConfig names the external programs.
type ToolsConfig struct {
	Verilator string `json:"verilator" yaml:"verilator"`
	Make      string `json:"make" yaml:"make"`
	GTKWave   string `json:"gtkwave" yaml:"gtkwave"`
	WASISDK   string `json:"wasi_sdk,omitempty" yaml:"wasi_sdk,omitempty"`
}

// Default returns a Project with defaults for every optional field.
func Default() *Project {
	return &Project{
		BuildDir: "obj_dir",
		Trace: TraceConfig{
			Format: "vcd",
		},
		Target:   "native",
		AutoEval: true,
		Cache: CacheConfig{
			Enabled: false,
			Path:    filepath.Join(".vlsim", "cache.db"),
		},
		Tools: ToolsConfig{
			Verilator: "verilator",
			Make:      "make",
			GTKWave:   "gtkwave",
		},
	}
}

// LoadFromFile reads path over the defaults, applies environment
// overrides and validates the result. Relative paths in the file are
// resolved against the file's directory.
func LoadFromFile(path string) (*Project, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load is LoadFromFile without validation, for callers that amend the
// project before validating it.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindPrecondition, err, "read project file")
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	p.resolve(filepath.Dir(path))
	ApplyEnv(p)
	return p, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(data []byte) (*Project, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse project file")
	}
	return p, nil
}

// Find returns the project file in dir, or "" when there is none.
func Find(dir string) string {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// ApplyEnv overrides fields from the environment.
func ApplyEnv(p *Project) {
	if v := os.Getenv(EnvBuildDir); v != "" {
		p.BuildDir = v
	}
	if v := os.Getenv(EnvVerilator); v != "" {
		p.Tools.Verilator = v
	}
	if v := os.Getenv(EnvMake); v != "" {
		p.Tools.Make = v
	}
	if v := os.Getenv(EnvGTKWave); v != "" {
		p.Tools.GTKWave = v
	}
	if v := os.Getenv(EnvWASISDK); v != "" {
		p.Tools.WASISDK = v
	}
}

// Validate checks p against the project schema.
func (p *Project) Validate() error {
	v, err := defaultValidator()
	if err != nil {
		return err
	}
	return v.Validate(p)
}

// JSON returns the embedded payload, nil when unset.
func (p *Project) JSON() []byte {
	if p.JSONData == "" {
		return nil
	}
	return []byte(p.JSONData)
}

func (p *Project) resolve(base string) {
	abs := func(s string) string {
		if s == "" || filepath.IsAbs(s) {
			return s
		}
		return filepath.Join(base, s)
	}
	p.Top = abs(p.Top)
	for i := range p.Sources {
		p.Sources[i] = abs(p.Sources[i])
	}
	for i := range p.SearchPaths {
		p.SearchPaths[i] = abs(p.SearchPaths[i])
	}
	p.BuildDir = abs(p.BuildDir)
	p.Cache.Path = abs(p.Cache.Path)
}
