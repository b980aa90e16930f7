package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/vlsim/errors"
)

func TestDefault_Validates(t *testing.T) {
	p := Default()
	p.Top = "counter.v"
	if err := p.Validate(); err != nil {
		t.Fatalf("default project should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	for _, k := range []string{EnvBuildDir, EnvVerilator, EnvMake, EnvGTKWave, EnvWASISDK} {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	content := `top: rtl/counter.v
sources: [rtl/sub.v]
search_paths: [rtl, /opt/ip]
defines: [WIDTH=8, SIM]
build_dir: build
command_args: [+seed=3]
json_data: '{"rules": ["r1"]}'
trace:
  format: fst
  depth: 2
auto_eval: false
cache:
  enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if p.Top != filepath.Join(dir, "rtl", "counter.v") {
		t.Errorf("Top = %q", p.Top)
	}
	if p.SearchPaths[1] != "/opt/ip" {
		t.Errorf("absolute search path rewritten: %q", p.SearchPaths[1])
	}
	if p.BuildDir != filepath.Join(dir, "build") {
		t.Errorf("BuildDir = %q", p.BuildDir)
	}
	if p.Trace.Format != "fst" || p.Trace.Depth != 2 {
		t.Errorf("Trace = %+v", p.Trace)
	}
	if p.AutoEval {
		t.Error("AutoEval should be false")
	}
	if p.Target != "native" {
		t.Errorf("Target default = %q", p.Target)
	}
	if !p.Cache.Enabled || p.Cache.Path != filepath.Join(dir, ".vlsim", "cache.db") {
		t.Errorf("Cache = %+v", p.Cache)
	}
	if string(p.JSON()) != `{"rules": ["r1"]}` {
		t.Errorf("JSON = %q", p.JSON())
	}
	if p.Tools.Verilator != "verilator" {
		t.Errorf("Tools.Verilator = %q", p.Tools.Verilator)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvBuildDir, "/tmp/b")
	t.Setenv(EnvVerilator, "/usr/local/bin/verilator")
	t.Setenv(EnvMake, "gmake")
	t.Setenv(EnvGTKWave, "")
	t.Setenv(EnvWASISDK, "/opt/wasi-sdk")

	p := Default()
	ApplyEnv(p)
	if p.BuildDir != "/tmp/b" || p.Tools.Verilator != "/usr/local/bin/verilator" || p.Tools.Make != "gmake" {
		t.Errorf("overrides not applied: %+v", p)
	}
	if p.Tools.GTKWave != "gtkwave" {
		t.Errorf("empty env should keep default, got %q", p.Tools.GTKWave)
	}
	if p.Tools.WASISDK != "/opt/wasi-sdk" {
		t.Errorf("WASISDK = %q", p.Tools.WASISDK)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Project)
	}{
		{"bad extension", func(p *Project) { p.Top = "design.vhd" }},
		{"empty top", func(p *Project) { p.Top = "" }},
		{"bad source", func(p *Project) { p.Sources = []string{"x.c"} }},
		{"bad trace format", func(p *Project) { p.Trace.Format = "lxt2" }},
		{"negative depth", func(p *Project) { p.Trace.Depth = -1 }},
		{"bad define", func(p *Project) { p.Defines = []string{"1BAD"} }},
		{"empty build dir", func(p *Project) { p.BuildDir = "" }},
		{"unknown target", func(p *Project) { p.Target = "fpga" }},
		{"empty tool", func(p *Project) { p.Tools.Make = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			p.Top = "top.v"
			tt.mutate(p)
			err := p.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.HasKind(err, errors.KindPrecondition) {
				t.Errorf("kind = %v, want precondition", err)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("top: [unterminated"))
	if !errors.HasKind(err, errors.KindInvalidData) {
		t.Errorf("Parse = %v, want invalid_data", err)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	if got := Find(dir); got != "" {
		t.Errorf("Find on empty dir = %q", got)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("top: a.v\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := Find(dir); got != path {
		t.Errorf("Find = %q, want %q", got, path)
	}
}
