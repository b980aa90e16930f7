package modeltest

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/wippyai/vlsim/abi"
)

// CounterMetadata describes an 8-bit counter with synchronous reset and
// enable, plus a 70-bit shadow input/output pair for wide-signal tests.
func CounterMetadata() *abi.Metadata {
	return &abi.Metadata{
		Module: "counter",
		Inputs: []abi.Descriptor{
			{Name: "clk", Width: 1},
			{Name: "rst", Width: 1},
			{Name: "en", Width: 1},
			{Name: "wide_in", Width: 70},
			{Name: "range", Width: 4},
		},
		Outputs: []abi.Descriptor{
			{Name: "q", Width: 8},
			{Name: "wide_out", Width: 70},
			{Name: "mid", Width: 40},
		},
		Internals: []abi.Descriptor{
			{Name: "counter__DOT__count_r", Width: 8},
			{Name: "counter__DOT__u_sub__DOT__acc", Width: 16},
			{Name: "counter__DOT__u_sub__DOT__flag__024x", Width: 1},
			{Name: "counter__DOT__mem__BRA__0__KET__", Width: 8},
		},
		JSON:        []byte(`{"author":"test"}`),
		TraceFormat: "vcd",
	}
}

// Counter is the Behavior matching CounterMetadata. The counter advances on
// a rising clk edge when en is set, wraps at 256 and reaches $finish when it
// hits 0xff. wide_out mirrors wide_in and mid holds wide_in's low 40 bits.
func Counter(s *State) {
	s.Set("wide_out", s.Get("wide_in"))
	s.Set("mid", s.Get("wide_in"))
	if s.Rising("clk") {
		switch {
		case s.Uint("rst") != 0:
			s.SetUint("counter__DOT__count_r", 0)
		case s.Uint("en") != 0:
			next := s.Uint("counter__DOT__count_r") + 1
			s.SetUint("counter__DOT__count_r", next)
			if next&0xff == 0xff {
				s.Finish("counter.v", 12)
			}
		}
		s.SetUint("counter__DOT__u_sub__DOT__acc", s.Uint("counter__DOT__u_sub__DOT__acc")+s.Uint("counter__DOT__count_r"))
	}
	s.Set("q", s.Get("counter__DOT__count_r"))
	s.Set("counter__DOT__u_sub__DOT__flag__024x", big.NewInt(int64(s.Uint("range")&1)))
}

// OpenCounter opens a counter Library at path.
func OpenCounter(path string) *Library {
	return Open(path, CounterMetadata(), Counter)
}

// AdderMetadata describes a clockless 8-bit adder.
func AdderMetadata() *abi.Metadata {
	return &abi.Metadata{
		Module: "adder",
		Inputs: []abi.Descriptor{
			{Name: "a", Width: 8},
			{Name: "b", Width: 8},
		},
		Outputs: []abi.Descriptor{
			{Name: "sum", Width: 9},
		},
	}
}

// Adder is the Behavior matching AdderMetadata.
func Adder(s *State) {
	s.SetUint("sum", s.Uint("a")+s.Uint("b"))
}

// OpenAdder opens an adder Library at path.
func OpenAdder(path string) *Library {
	return Open(path, AdderMetadata(), Adder)
}

// PassthroughMetadata describes a module with one input in_<w> wired
// straight to one output out_<w> for every width.
func PassthroughMetadata(widths ...int) *abi.Metadata {
	m := &abi.Metadata{Module: "passthrough"}
	for _, w := range widths {
		m.Inputs = append(m.Inputs, abi.Descriptor{Name: fmt.Sprintf("in_%d", w), Width: w})
		m.Outputs = append(m.Outputs, abi.Descriptor{Name: fmt.Sprintf("out_%d", w), Width: w})
	}
	return m
}

// Passthrough is the Behavior matching PassthroughMetadata.
func Passthrough(s *State) {
	for _, sig := range s.lib.signals {
		if sig.Category != abi.Output {
			continue
		}
		s.Set(sig.Name, s.Get("in_"+strings.TrimPrefix(sig.Name, "out_")))
	}
}

// ConcatMetadata describes five inputs of 8, 16, 32, 64 and 128 bits
// concatenated into one 248-bit output, input_a most significant.
func ConcatMetadata() *abi.Metadata {
	return &abi.Metadata{
		Module: "concat",
		Inputs: []abi.Descriptor{
			{Name: "input_a", Width: 8},
			{Name: "input_b", Width: 16},
			{Name: "input_c", Width: 32},
			{Name: "input_d", Width: 64},
			{Name: "input_e", Width: 128},
		},
		Outputs: []abi.Descriptor{
			{Name: "output_concat", Width: 248},
		},
	}
}

// Concat is the Behavior matching ConcatMetadata.
func Concat(s *State) {
	v := new(big.Int)
	for _, in := range []struct {
		name  string
		width uint
	}{
		{"input_a", 8},
		{"input_b", 16},
		{"input_c", 32},
		{"input_d", 64},
		{"input_e", 128},
	} {
		v.Lsh(v, in.width)
		v.Or(v, s.Get(in.name))
	}
	s.Set("output_concat", v)
}

// PipelineMetadata describes a 3-stage, 8-bit register pipeline clocked
// by CLK.
func PipelineMetadata() *abi.Metadata {
	return &abi.Metadata{
		Module: "pipeline",
		Inputs: []abi.Descriptor{
			{Name: "in_data", Width: 8},
			{Name: "CLK", Width: 1},
		},
		Outputs: []abi.Descriptor{
			{Name: "out_data", Width: 8},
		},
		Internals: []abi.Descriptor{
			{Name: "pipeline__DOT__stage1", Width: 8},
			{Name: "pipeline__DOT__stage2", Width: 8},
			{Name: "pipeline__DOT__stage3", Width: 8},
		},
	}
}

// Pipeline is the Behavior matching PipelineMetadata.
func Pipeline(s *State) {
	if s.Rising("CLK") {
		s.Set("pipeline__DOT__stage3", s.Get("pipeline__DOT__stage2"))
		s.Set("pipeline__DOT__stage2", s.Get("pipeline__DOT__stage1"))
		s.Set("pipeline__DOT__stage1", s.Get("in_data"))
	}
	s.Set("out_data", s.Get("pipeline__DOT__stage3"))
}
