package sim_test

import (
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
	"github.com/wippyai/vlsim/internal/modeltest"
	"github.com/wippyai/vlsim/sim"
)

func open(t *testing.T, lib *modeltest.Library, opts ...sim.Option) *sim.Simulation {
	t.Helper()
	s, err := sim.New(lib, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func hex(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		t.Fatalf("bad hex literal %q", s)
	}
	return v
}

func TestNew_ZeroesInputs(t *testing.T) {
	lib := modeltest.OpenCounter(t.Name())
	s := open(t, lib)

	// one setter call per narrow input, three words for the 70-bit wide_in
	if lib.Writes != 7 || lib.Evals != 5 {
		t.Errorf("init: %d writes, %d evals; want 7 and 5", lib.Writes, lib.Evals)
	}
	for _, name := range []string{"clk", "rst", "en", "wide_in", "range", "q"} {
		v, err := s.ReadUint64(name)
		if err != nil {
			t.Fatal(err)
		}
		if v != 0 {
			t.Errorf("%s = %d after init", name, v)
		}
	}
	if s.Module() != "counter" {
		t.Errorf("Module = %q", s.Module())
	}
	if lib.Models() != 1 {
		t.Errorf("models = %d", lib.Models())
	}
}

func TestWidthTiers(t *testing.T) {
	widths := []int{1, 8, 32, 33, 64, 65, 128, 248}
	lib := modeltest.Open(t.Name(), modeltest.PassthroughMetadata(widths...), modeltest.Passthrough)
	s := open(t, lib)

	for _, w := range widths {
		allOnes := abi.Mask(big.NewInt(-1), w)
		pattern := abi.Mask(hex(t, strings.Repeat("a5", 32)), w)
		top := new(big.Int).Lsh(big.NewInt(1), uint(w-1))

		for _, v := range []*big.Int{big.NewInt(0), big.NewInt(1), allOnes, pattern, top} {
			in := "in_" + strconv.Itoa(w)
			out := "out_" + strconv.Itoa(w)
			if err := s.Write(in, v); err != nil {
				t.Fatalf("write %s: %v", in, err)
			}
			got, err := s.Read(out)
			if err != nil {
				t.Fatalf("read %s: %v", out, err)
			}
			if got.Cmp(v) != 0 {
				t.Errorf("width %d: wrote %x, read %x", w, v, got)
			}
		}
	}
}

func TestMultiWordConcat(t *testing.T) {
	lib := modeltest.Open(t.Name(), modeltest.ConcatMetadata(), modeltest.Concat)
	s := open(t, lib)

	inputs := []struct{ name, value string }{
		{"input_a", "aa"},
		{"input_b", "1bbb"},
		{"input_c", "3ccccccc"},
		{"input_d", "7ddddddddddddddd"},
		{"input_e", "feeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"},
	}
	for _, in := range inputs {
		if err := s.Write(in.name, hex(t, in.value)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Read("output_concat")
	if err != nil {
		t.Fatal(err)
	}
	want := hex(t, "aa1bbb3ccccccc7dddddddddddddddfeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	if got.Cmp(want) != 0 {
		t.Errorf("output_concat = %x, want %x", got, want)
	}
}

func TestAutoEval(t *testing.T) {
	t.Run("on", func(t *testing.T) {
		s := open(t, modeltest.OpenAdder(t.Name()))
		s.WriteUint64("a", 3)
		s.WriteUint64("b", 4)
		if sum, _ := s.ReadUint64("sum"); sum != 7 {
			t.Errorf("sum = %d, want 7", sum)
		}
		s.WriteUint64("a", 0xff)
		s.WriteUint64("b", 0xff)
		if sum, _ := s.ReadUint64("sum"); sum != 0x1fe {
			t.Errorf("sum = %#x, want 0x1fe", sum)
		}
	})

	t.Run("off", func(t *testing.T) {
		s := open(t, modeltest.OpenAdder(t.Name()), sim.WithAutoEval(false))
		s.WriteUint64("a", 3)
		s.WriteUint64("b", 4)
		if sum, _ := s.ReadUint64("sum"); sum != 0 {
			t.Errorf("sum = %d before Eval, want 0", sum)
		}
		if err := s.Eval(); err != nil {
			t.Fatal(err)
		}
		if sum, _ := s.ReadUint64("sum"); sum != 7 {
			t.Errorf("sum = %d after Eval, want 7", sum)
		}
	})
}

func TestPipelineLatency(t *testing.T) {
	lib := modeltest.Open(t.Name(), modeltest.PipelineMetadata(), modeltest.Pipeline)
	s := open(t, lib)

	clk, ok := s.Clock()
	if !ok || clk.Name() != "CLK" {
		t.Fatalf("clock = %v, %v; want CLK", clk, ok)
	}

	if v, _ := s.ReadUint64("out_data"); v != 0 {
		t.Fatalf("out_data = %#x before any input", v)
	}

	if err := s.WriteUint64("in_data", 0x5a); err != nil {
		t.Fatal(err)
	}
	var got []uint64
	for i := 0; i < 3; i++ {
		if err := s.Tick(1); err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			s.WriteUint64("in_data", 0)
		}
		v, _ := s.ReadUint64("out_data")
		got = append(got, v)
	}
	if diff := cmp.Diff([]uint64{0, 0, 0x5a}, got); diff != "" {
		t.Errorf("out_data per tick mismatch (-want +got):\n%s", diff)
	}

	stage3, err := s.ReadUint64("stage3")
	if err != nil {
		t.Fatal(err)
	}
	if stage3 != 0x5a {
		t.Errorf("stage3 = %#x", stage3)
	}
}

func TestClockDetection(t *testing.T) {
	tests := []struct {
		name   string
		inputs []abi.Descriptor
		want   string
	}{
		{"exact beats prefix", []abi.Descriptor{{Name: "rst", Width: 1}, {Name: "clk_fast", Width: 1}, {Name: "sysclk", Width: 1}, {Name: "clk", Width: 1}}, "clk"},
		{"prefix beats suffix", []abi.Descriptor{{Name: "a_clock", Width: 1}, {Name: "clk_b", Width: 1}}, "clk_b"},
		{"suffix", []abi.Descriptor{{Name: "data", Width: 8}, {Name: "core_clk", Width: 1}}, "core_clk"},
		{"case insensitive", []abi.Descriptor{{Name: "CLOCK", Width: 1}}, "CLOCK"},
		{"first match wins", []abi.Descriptor{{Name: "clk_a", Width: 1}, {Name: "clk_b", Width: 1}}, "clk_a"},
		{"multi-bit skipped", []abi.Descriptor{{Name: "clk", Width: 2}, {Name: "main_clk", Width: 1}}, "main_clk"},
		{"none", []abi.Descriptor{{Name: "data", Width: 1}}, ""},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := &abi.Metadata{
				Module:  "m",
				Inputs:  tt.inputs,
				Outputs: []abi.Descriptor{{Name: "clk_out", Width: 1}},
			}
			s := open(t, modeltest.Open(t.Name()+strconv.Itoa(i), meta, nil))
			clk, ok := s.Clock()
			got := ""
			if ok {
				got = clk.Name()
			}
			if got != tt.want {
				t.Errorf("clock = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithClockName(t *testing.T) {
	s := open(t, modeltest.OpenCounter(t.Name()+"/rst"), sim.WithClockName("rst"))
	if clk, ok := s.Clock(); !ok || clk.Name() != "rst" {
		t.Errorf("clock = %v, %v", clk, ok)
	}

	s = open(t, modeltest.OpenCounter(t.Name()+"/none"), sim.WithClockName(""))
	if _, ok := s.Clock(); ok {
		t.Error("empty clock name should disable the clock")
	}
	if err := s.Tick(1); err != sim.ErrNoClock {
		t.Errorf("Tick = %v, want ErrNoClock", err)
	}

	lib := modeltest.OpenCounter(t.Name() + "/output")
	if _, err := sim.New(lib, sim.WithClockName("q")); !errors.HasKind(err, errors.KindPrecondition) {
		t.Errorf("output as clock = %v, want precondition", err)
	}
	if !lib.Closed() || lib.Models() != 0 {
		t.Errorf("failed New leaked: closed %v, models %d", lib.Closed(), lib.Models())
	}
}

func TestTrace_StateMachine(t *testing.T) {
	dir := t.TempDir()
	lib := modeltest.OpenCounter(t.Name())
	s := open(t, lib)

	if err := s.StopTrace(); !errors.HasKind(err, errors.KindStateMisuse) {
		t.Errorf("stop without start = %v, want state_misuse", err)
	}
	if err := s.AddToTrace(); !errors.HasKind(err, errors.KindStateMisuse) {
		t.Errorf("add without start = %v, want state_misuse", err)
	}
	if err := s.FlushTrace(); !errors.HasKind(err, errors.KindStateMisuse) {
		t.Errorf("flush without start = %v, want state_misuse", err)
	}

	first := filepath.Join(dir, "first.vcd")
	if err := s.StartTrace(first); err != nil {
		t.Fatal(err)
	}
	if err := s.StartTrace(filepath.Join(dir, "again.vcd")); !errors.HasKind(err, errors.KindStateMisuse) {
		t.Errorf("double start = %v, want state_misuse", err)
	}
	if s.TraceFile() != first {
		t.Errorf("TraceFile = %q", s.TraceFile())
	}
	if err := s.StopTrace(); err != nil {
		t.Fatal(err)
	}
	if err := s.StopTrace(); !errors.HasKind(err, errors.KindStateMisuse) {
		t.Errorf("double stop = %v, want state_misuse", err)
	}

	second := filepath.Join(dir, "second.vcd")
	if err := s.StartTrace(second); err != nil {
		t.Fatal(err)
	}
	if err := s.AddToTrace(); err != nil {
		t.Errorf("restarted trace rejects samples: %v", err)
	}
	tr, _ := s.Trace()
	if tr.Time() != 4*sim.TraceStep {
		t.Errorf("time = %d, want %d", tr.Time(), 4*sim.TraceStep)
	}
	if err := s.StopTrace(); err != nil {
		t.Fatal(err)
	}

	for _, f := range []string{first, second} {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("dump %s: %v", f, err)
		}
	}
	if lib.OpenTraces() != 0 {
		t.Errorf("open traces = %d", lib.OpenTraces())
	}
}

func sampleTimes(lib *modeltest.Library) []uint64 {
	var out []uint64
	for _, s := range lib.Samples() {
		out = append(out, s.Time)
	}
	return out
}

func TestTrace_ClockMode(t *testing.T) {
	lib := modeltest.OpenCounter(t.Name())
	s := open(t, lib)

	if err := s.StartTrace(filepath.Join(t.TempDir(), "clk.vcd")); err != nil {
		t.Fatal(err)
	}
	tr, _ := s.Trace()
	if tr.Mode() != sim.TraceOnClock || tr.Depth() != sim.DefaultTraceDepth {
		t.Errorf("mode %s depth %d", tr.Mode(), tr.Depth())
	}

	// non-clock writes do not append
	s.WriteUint64("en", 1)
	if err := s.Tick(1); err != nil {
		t.Fatal(err)
	}

	want := []uint64{5, 10, 15, 20, 25, 30}
	if diff := cmp.Diff(want, sampleTimes(lib)); diff != "" {
		t.Errorf("sample times mismatch (-want +got):\n%s", diff)
	}
	if lib.Flushes() != 3 {
		t.Errorf("flushes = %d, want 3", lib.Flushes())
	}

	// the last sample carries the value after the rising edge
	samples := lib.Samples()
	q := samples[len(samples)-1].Values[5]
	if q.Uint64() != 1 {
		t.Errorf("q in last sample = %d, want 1", q.Uint64())
	}
}

func TestTrace_EvalMode(t *testing.T) {
	lib := modeltest.OpenAdder(t.Name())
	s := open(t, lib)

	if err := s.StartTrace(filepath.Join(t.TempDir(), "eval.vcd"), sim.WithTraceDepth(2)); err != nil {
		t.Fatal(err)
	}
	if lib.TraceDepth() != 2 {
		t.Errorf("depth = %d", lib.TraceDepth())
	}
	s.WriteUint64("a", 1)
	s.Eval()

	if diff := cmp.Diff([]uint64{5, 10, 15, 20, 25, 30}, sampleTimes(lib)); diff != "" {
		t.Errorf("sample times mismatch (-want +got):\n%s", diff)
	}
}

func TestTrace_Manual(t *testing.T) {
	lib := modeltest.OpenCounter(t.Name())
	s := open(t, lib)

	if err := s.StartTrace(filepath.Join(t.TempDir(), "m.vcd"), sim.WithoutAutoTrace()); err != nil {
		t.Fatal(err)
	}
	s.Tick(2)
	s.Eval()
	if n := len(lib.Samples()); n != 2 {
		t.Errorf("samples = %d, want only the initial 2", n)
	}
	if err := s.StartTrace("x.vcd", sim.WithTraceDepth(0)); !errors.HasKind(err, errors.KindStateMisuse) {
		t.Errorf("start while active = %v", err)
	}
}

func TestFinish(t *testing.T) {
	s := open(t, modeltest.OpenCounter(t.Name()))

	var first, second []abi.FinishEvent
	s.OnFinish(func(ev abi.FinishEvent) { first = append(first, ev) })
	s.OnFinish(func(ev abi.FinishEvent) { second = append(second, ev) })

	s.WriteUint64("en", 1)
	if done, _ := s.Finished(); done {
		t.Fatal("finished before counting")
	}
	if err := s.Tick(0xff); err != nil {
		t.Fatal(err)
	}

	if done, _ := s.Finished(); !done {
		t.Error("Finished() = false after $finish")
	}
	if len(first) != 0 {
		t.Errorf("replaced callback ran %d times", len(first))
	}
	want := []abi.FinishEvent{{File: "counter.v", Line: 12, Hier: "TOP"}}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("finish events mismatch (-want +got):\n%s", diff)
	}

	if err := s.SetFinished(false); err != nil {
		t.Fatal(err)
	}
	if done, _ := s.Finished(); done {
		t.Error("SetFinished(false) did not clear the flag")
	}
}

// Two simulations over the same artifact share its process-global state:
// the finished flag and the single finish callback slot. A $finish reaches
// the simulation that was evaluating, and closing either one clears the
// slot for both. Distinct artifacts are isolated.
func TestSharedArtifactHazard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Vcounter.so")
	libA := modeltest.OpenCounter(path)
	a := open(t, libA)
	b := open(t, modeltest.OpenCounter(path))
	isolated := open(t, modeltest.OpenCounter(path+".copy"))

	var toA, toB int
	a.OnFinish(func(abi.FinishEvent) { toA++ })
	b.OnFinish(func(abi.FinishEvent) { toB++ })

	a.WriteUint64("en", 1)
	if err := a.Tick(0xff); err != nil {
		t.Fatal(err)
	}

	if done, _ := b.Finished(); !done {
		t.Error("expected b to observe a's $finish through the shared artifact")
	}
	if toA != 1 || toB != 0 {
		t.Errorf("callbacks: a=%d b=%d; want the evaluating simulation's callback", toA, toB)
	}
	if done, _ := isolated.Finished(); done {
		t.Error("distinct artifact observed a's $finish")
	}

	// model state itself stays per instance
	qa, _ := a.ReadUint64("q")
	qb, _ := b.ReadUint64("q")
	if qa != 0xff || qb != 0 {
		t.Errorf("q: a=%#x b=%#x", qa, qb)
	}

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.SetFinished(false); err != nil {
		t.Fatal(err)
	}
	if err := a.Tick(0x100); err != nil {
		t.Fatal(err)
	}
	if toA != 1 {
		t.Errorf("a's callback ran after b cleared the shared slot (%d calls)", toA)
	}
	if done, _ := a.Finished(); !done || libA.Exits() != 0 {
		t.Errorf("first default $finish: finished %v, exits %d", done, libA.Exits())
	}
	if err := a.Tick(0x100); err != nil {
		t.Fatal(err)
	}
	if libA.Exits() != 1 {
		t.Errorf("second default $finish: exits %d, want 1", libA.Exits())
	}
}

func TestReadWrite_Errors(t *testing.T) {
	s := open(t, modeltest.OpenCounter(t.Name()))

	if _, err := s.Read("nope"); !errors.HasKind(err, errors.KindNoSuchSignal) {
		t.Errorf("Read(nope) = %v", err)
	}
	if err := s.WriteUint64("nope", 1); !errors.HasKind(err, errors.KindNoSuchSignal) {
		t.Errorf("Write(nope) = %v", err)
	}
	if err := s.WriteUint64("q", 1); !errors.HasKind(err, errors.KindNotWritable) {
		t.Errorf("Write(q) = %v", err)
	}

	// the instance stays usable
	if err := s.WriteUint64("en", 1); err != nil {
		t.Fatal(err)
	}
	s.Tick(2)
	for _, name := range []string{"q", "count_r", "counter__DOT__count_r"} {
		v, err := s.ReadUint64(name)
		if err != nil || v != 2 {
			t.Errorf("Read(%s) = %d, %v; want 2", name, v, err)
		}
	}
	if !s.Contains("u_sub.acc") || !s.Contains("range") || s.Contains("mem") {
		t.Error("Contains mismatch")
	}
}

func TestCommandArgsAndJSON(t *testing.T) {
	lib := modeltest.OpenCounter(t.Name())
	s := open(t, lib, sim.WithCommandArgs([]string{"+seed=3", "+verbose"}))

	if diff := cmp.Diff([]string{"+seed=3", "+verbose"}, lib.CommandArgs()); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	js := s.JSON()
	if string(js) != `{"author":"test"}` {
		t.Errorf("JSON = %s", js)
	}
	js[0] = 'X'
	if string(s.JSON()) != `{"author":"test"}` {
		t.Error("JSON returned shared storage")
	}

	if js := open(t, modeltest.OpenAdder(t.Name()+"/adder")).JSON(); js != nil {
		t.Errorf("adder JSON = %q, want nil", js)
	}
}

func TestClose(t *testing.T) {
	lib := modeltest.OpenCounter(t.Name())
	s, err := sim.New(lib)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StartTrace(filepath.Join(t.TempDir(), "c.vcd")); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if !lib.Closed() || lib.Models() != 0 || lib.OpenTraces() != 0 {
		t.Errorf("leak: closed %v, models %d, traces %d", lib.Closed(), lib.Models(), lib.OpenTraces())
	}
	if _, err := s.Read("q"); !errors.HasKind(err, errors.KindNotInitialized) {
		t.Errorf("Read after Close = %v", err)
	}
}

func TestNew_InvalidMetadata(t *testing.T) {
	meta := &abi.Metadata{
		Module:  "bad",
		Inputs:  []abi.Descriptor{{Name: "a", Width: 1}},
		Outputs: []abi.Descriptor{{Name: "a", Width: 1}},
	}
	lib := modeltest.Open(t.Name(), meta, nil)
	if _, err := sim.New(lib); err == nil {
		t.Fatal("duplicate names accepted")
	}
	if !lib.Closed() {
		t.Error("library not released after failed New")
	}
}
