package verilator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-version"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
)

const legacyHeader = `// Verilated -*- C++ -*-
class Vcounter : public VerilatedModule {
  public:
    VL_IN8(clk,0,0);
    VL_IN8(rst,0,0);
    VL_IN64(data,39,0);
    VL_INW(wide_in,69,0,3);
    VL_OUT8(q,7,0);
    VL_OUTW(wide_out,127,0,4);
    VL_SIG8(counter__DOT__count_r,7,0);
    VL_SIG16(counter__DOT__u_sub__DOT__acc,15,0);
    VL_SIG8(counter__DOT__slice,7,4);
    VL_SIG8(counter__DOT__mem[4],7,0);
    VL_SIG8(__Vclklast__TOP__clk,0,0);
    VL_SIGW(counter__DOT__big,95,0,3);
};
`

const modernTopHeader = `class Vcounter VL_NOT_FINAL : public VerilatedModel {
  public:
    VL_IN8(&clk,0,0);
    VL_OUT8(&q,7,0);
};
`

const modernRootHeader = `class Vcounter___024root final : public VerilatedModule {
  public:
    VL_IN8(clk,0,0);
    VL_OUT8(q,7,0);
    CData/*7:0*/ counter__DOT__count_r;
    SData/*15:0*/ counter__DOT__u_sub__DOT__acc;
    VlWide<3>/*69:0*/ counter__DOT__wide_r;
    CData/*0:0*/ __Vtrigprevexpr___TOP__clk__0;
    VlUnpacked<CData/*7:0*/, 4> counter__DOT__mem;
};
`

func TestScanHeader_Legacy(t *testing.T) {
	got, err := ScanHeader(strings.NewReader(legacyHeader), "counter")
	if err != nil {
		t.Fatal(err)
	}
	want := Signals{
		Inputs: []abi.Descriptor{
			{Name: "clk", Width: 1},
			{Name: "rst", Width: 1},
			{Name: "data", Width: 40},
			{Name: "wide_in", Width: 70},
		},
		Outputs: []abi.Descriptor{
			{Name: "q", Width: 8},
			{Name: "wide_out", Width: 128},
		},
		Internals: []abi.Descriptor{
			{Name: "counter__DOT__count_r", Width: 8},
			{Name: "counter__DOT__u_sub__DOT__acc", Width: 16},
			{Name: "counter__DOT__big", Width: 96},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ScanHeader mismatch (-want +got):\n%s", diff)
	}
}

func TestScanBuildDir_Modern(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Vcounter.h"), []byte(modernTopHeader), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Vcounter___024root.h"), []byte(modernRootHeader), 0o644); err != nil {
		t.Fatal(err)
	}

	got, viaRoot, err := ScanBuildDir(dir, "counter")
	if err != nil {
		t.Fatal(err)
	}
	if !viaRoot {
		t.Error("internals should be reached via the root class")
	}
	want := Signals{
		Inputs:  []abi.Descriptor{{Name: "clk", Width: 1}},
		Outputs: []abi.Descriptor{{Name: "q", Width: 8}},
		Internals: []abi.Descriptor{
			{Name: "counter__DOT__count_r", Width: 8},
			{Name: "counter__DOT__u_sub__DOT__acc", Width: 16},
			{Name: "counter__DOT__wide_r", Width: 70},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ScanBuildDir mismatch (-want +got):\n%s", diff)
	}
}

func TestScanBuildDir_MissingHeader(t *testing.T) {
	_, _, err := ScanBuildDir(t.TempDir(), "nothing")
	if !errors.HasKind(err, errors.KindInvalidData) {
		t.Errorf("err = %v, want invalid_data", err)
	}
}

func TestArgs(t *testing.T) {
	d1, _ := ParseDefine("WIDTH=8")
	d2, _ := ParseDefine("SIM")
	got := Args(Options{
		Top:         "rtl/counter.v",
		Sources:     []string{"rtl/sub.v"},
		SearchPaths: []string{"rtl", "lib"},
		Defines:     []Define{d1, d2},
		BuildDir:    "obj_dir",
		TraceDepth:  3,
		ExtraArgs:   []string{"-O3"},
		Glue:        "obj_dir/vlsim_glue.cpp",
	})
	want := []string{
		"-Wno-fatal", "-Mdir", "obj_dir",
		"-y", "rtl", "-y", "lib",
		"+define+WIDTH=8", "+define+SIM",
		"--CFLAGS", DefaultCFlags,
		"--trace", "--trace-depth", "3",
		"-O3",
		"--cc", "rtl/counter.v", "rtl/sub.v",
		"--exe", "obj_dir/vlsim_glue.cpp",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}

	fst := Args(Options{Top: "t.v", BuildDir: "b", TraceFormat: "fst", Glue: "g.cpp"})
	if !contains(fst, "--trace-fst") || contains(fst, "--trace") {
		t.Errorf("fst args = %v", fst)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestParseDefine(t *testing.T) {
	tests := []struct {
		in      string
		want    Define
		wantErr bool
	}{
		{"SIM", Define{Name: "SIM"}, false},
		{"WIDTH=8", Define{Name: "WIDTH", Value: "8", HasValue: true}, false},
		{"EMPTY=", Define{Name: "EMPTY", HasValue: true}, false},
		{"=8", Define{}, true},
		{"9LIVES", Define{}, true},
		{"A B", Define{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDefine(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseDefine(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if err == nil && got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestModuleName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"rtl/counter.v", "counter", false},
		{"alu.sv", "alu", false},
		{"design.vhd", "", true},
		{"noext", "", true},
		{"my-top.v", "", true},
	}
	for _, tt := range tests {
		got, err := ModuleName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ModuleName(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.HasKind(err, errors.KindPrecondition) {
			t.Errorf("ModuleName(%q) kind = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ModuleName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMakeArgs(t *testing.T) {
	got := MakeArgs("obj_dir", "counter", "")
	want := []string{"-C", "obj_dir", "-f", "Vcounter.mk", "CFLAGS=" + DefaultCFlags + " -shared", "LDFLAGS=-fPIC -shared"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MakeArgs mismatch (-want +got):\n%s", diff)
	}
	if Artifact("obj_dir", "counter") != filepath.Join("obj_dir", "Vcounter") {
		t.Errorf("Artifact = %q", Artifact("obj_dir", "counter"))
	}
}

func TestWASIMakeArgs(t *testing.T) {
	got := WASIMakeArgs("obj_dir", "counter", "/opt/wasi-sdk", "", "-j4")
	clang := filepath.Join("/opt/wasi-sdk", "bin", "clang++") + " --target=wasm32-wasi --sysroot=" +
		filepath.Join("/opt/wasi-sdk", "share", "wasi-sysroot")
	want := []string{
		"-C", "obj_dir",
		"-f", "Vcounter.mk",
		"CXX=" + clang,
		"LINK=" + clang,
		"AR=" + filepath.Join("/opt/wasi-sdk", "bin", "llvm-ar"),
		"CFLAGS=" + DefaultCFlags + " -fno-exceptions -D_WASI_EMULATED_SIGNAL",
		"LDFLAGS=" + WASILinkFlags,
		"-j4",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("WASIMakeArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		out       string
		want      string
		flushOK   bool
		tbOK      bool
		rootClass bool
	}{
		{"Verilator 4.028 2020-02-06 rev v4.026-92-g890cecc1\n", "4.28.0", true, false, false},
		{"Verilator 4.038 2020-07-11 rev v4.036-114-g0cd4a57ad\n", "4.38.0", false, false, false},
		{"Verilator 4.102 2020-10-15\n", "4.102.0", false, false, false},
		{"Verilator 4.200 2021-03-12\n", "4.200.0", true, false, true},
		{"Verilator 5.020 2024-01-01 rev v5.020\n", "5.20.0", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			v, err := ParseVersion(tt.out)
			if err != nil {
				t.Fatal(err)
			}
			if !v.Equal(version.Must(version.NewVersion(tt.want))) {
				t.Errorf("version = %s, want %s", v, tt.want)
			}
			if FlushCallOK(v) != tt.flushOK {
				t.Errorf("FlushCallOK = %v, want %v", FlushCallOK(v), tt.flushOK)
			}
			if VerilogTestbenchOK(v) != tt.tbOK {
				t.Errorf("VerilogTestbenchOK = %v, want %v", VerilogTestbenchOK(v), tt.tbOK)
			}
			if RootClass(v) != tt.rootClass {
				t.Errorf("RootClass = %v, want %v", RootClass(v), tt.rootClass)
			}
		})
	}

	if _, err := ParseVersion("gcc 12.1"); err == nil {
		t.Error("expected error for foreign output")
	}
}

func TestFind_Missing(t *testing.T) {
	_, err := Find("vlsim-definitely-not-installed")
	if !errors.HasKind(err, errors.KindToolNotFound) {
		t.Errorf("Find = %v, want tool_not_found", err)
	}
}

func TestCommandLine(t *testing.T) {
	got := commandLine("make", []string{"-C", "obj dir", "CFLAGS=-fPIC -shared"})
	want := "make -C 'obj dir' 'CFLAGS=-fPIC -shared'"
	if got != want {
		t.Errorf("commandLine = %q, want %q", got, want)
	}
}
