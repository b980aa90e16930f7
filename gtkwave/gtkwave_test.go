package gtkwave

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/vlsim/errors"
	"github.com/wippyai/vlsim/names"
)

// fakeViewer answers wrapped commands from a handler and records them.
type fakeViewer struct {
	pending  bytes.Buffer
	out      bytes.Buffer
	commands []string
	raw      []string
	handle   func(cmd string) (string, bool)
}

func (f *fakeViewer) Write(p []byte) (int, error) {
	f.pending.Write(p)
	for {
		line, err := f.pending.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			f.pending.WriteString(line)
			break
		}
		line = strings.TrimSuffix(line, "\n")
		if !strings.HasPrefix(line, evalPrefix) {
			f.raw = append(f.raw, line)
			continue
		}
		cmd := strings.TrimSuffix(strings.TrimPrefix(line, evalPrefix), evalSuffix)
		f.commands = append(f.commands, cmd)
		reply, ok := f.handle(cmd)
		if reply != "" {
			f.out.WriteString(reply + "\n")
		}
		if ok {
			f.out.WriteString(markOK + "\n")
		} else {
			f.out.WriteString(markErr + "\n")
		}
	}
	return len(p), nil
}

func (f *fakeViewer) Read(p []byte) (int, error) {
	return f.out.Read(p)
}

func newFake(facts []string) *fakeViewer {
	f := &fakeViewer{}
	f.handle = func(cmd string) (string, bool) {
		switch {
		case cmd == factsScript:
			lines := make([]string, len(facts))
			for i, n := range facts {
				lines[i] = strconv.Itoa(i) + " " + n
			}
			return strings.Join(lines, "\n"), true
		case cmd == "gtkwave::getZoomFactor":
			return "-4.5", true
		case cmd == "gtkwave::getWindowStartTime":
			return "120", true
		case strings.HasPrefix(cmd, "gtkwave::loadFile"):
			return "", true
		case strings.HasPrefix(cmd, "gtkwave::addSignalsFromList"):
			return "1", true
		case cmd == "bogus":
			return `invalid command name "bogus"`, false
		}
		return "", true
	}
	return f
}

func TestSession_Queries(t *testing.T) {
	f := newFake(nil)
	s := New(f)

	z, err := s.ZoomFactor()
	if err != nil || z != -4.5 {
		t.Errorf("ZoomFactor = %v, %v", z, err)
	}
	start, err := s.WindowStart()
	if err != nil || start != 120 {
		t.Errorf("WindowStart = %v, %v", start, err)
	}
	if err := s.SetZoomFactor(2); err != nil {
		t.Fatal(err)
	}
	if err := s.SetWindowStart(40); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadFile("/tmp/dump.vcd"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"gtkwave::getZoomFactor",
		"gtkwave::getWindowStartTime",
		"gtkwave::setZoomFactor 2",
		"gtkwave::setWindowStartTime 40",
		"gtkwave::loadFile {/tmp/dump.vcd}",
	}
	if diff := cmp.Diff(want, f.commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_EvalError(t *testing.T) {
	s := New(newFake(nil))
	_, err := s.Eval("bogus")
	if !errors.HasKind(err, errors.KindProtocolMismatch) {
		t.Fatalf("Eval(bogus) = %v, want protocol_mismatch", err)
	}
	if !strings.Contains(err.Error(), "invalid command name") {
		t.Errorf("error does not carry the reply: %v", err)
	}
}

func TestSession_Facts(t *testing.T) {
	s := New(newFake([]string{"TOP.clk", "TOP.counter.q[7:0]"}))
	facts, err := s.Facts()
	if err != nil {
		t.Fatal(err)
	}
	want := []Fact{{0, "TOP.clk"}, {1, "TOP.counter.q[7:0]"}}
	if diff := cmp.Diff(want, facts); diff != "" {
		t.Errorf("facts mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_AddSignals(t *testing.T) {
	f := newFake([]string{"TOP.clk", "TOP.q[7:0]"})
	s := New(f)

	if err := s.AddSignals([]string{"TOP.clk", "TOP.q[7:0]"}); err != nil {
		t.Fatalf("AddSignals: %v", err)
	}
	last := f.commands[len(f.commands)-1]
	if last != "gtkwave::addSignalsFromList [list {TOP.clk} {TOP.q[7:0]}]" {
		t.Errorf("add command = %q", last)
	}

	err := s.AddSignals([]string{"TOP.clk", "TOP.missing", "TOP.gone[3:0]"})
	if !errors.HasKind(err, errors.KindProtocolMismatch) {
		t.Fatalf("partial AddSignals = %v, want protocol_mismatch", err)
	}
	if !strings.Contains(err.Error(), "added 1 of 3") {
		t.Errorf("error = %v", err)
	}
	// the matching signal was still sent
	last = f.commands[len(f.commands)-1]
	if last != "gtkwave::addSignalsFromList [list {TOP.clk}]" {
		t.Errorf("add command = %q", last)
	}
}

func TestSession_Close(t *testing.T) {
	f := newFake(nil)
	if err := New(f).Close(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"exit"}, f.raw); diff != "" {
		t.Errorf("raw lines mismatch (-want +got):\n%s", diff)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		path  names.Path
		width int
		want  string
	}{
		{names.Path{"clk"}, 1, "TOP.clk"},
		{names.Path{"q"}, 8, "TOP.q[7:0]"},
		{names.Path{"counter", "u_sub", "acc"}, 16, "TOP.counter.u_sub.acc[15:0]"},
	}
	for _, tt := range tests {
		if got := SignalName(tt.path, tt.width); got != tt.want {
			t.Errorf("SignalName(%v, %d) = %q, want %q", tt.path, tt.width, got, tt.want)
		}
	}
}

func TestQuote(t *testing.T) {
	tests := []struct{ in, want string }{
		{"TOP.q[7:0]", "{TOP.q[7:0]}"},
		{"a b", "{a b}"},
		{`x{y`, `x\{y`},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStart_ToolNotFound(t *testing.T) {
	_, err := Start(t.Context(), Options{Tool: "vlsim-no-such-viewer"})
	if !errors.HasKind(err, errors.KindToolNotFound) {
		t.Errorf("Start = %v, want tool_not_found", err)
	}
}
