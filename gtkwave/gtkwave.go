// Package gtkwave drives a GTKWave process over its Tcl command channel.
//
// Every command is wrapped so that the reply ends with a marker line,
// which makes the otherwise free-form stdout of GTKWave line-delimited.
package gtkwave

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/vlsim/errors"
	"github.com/wippyai/vlsim/names"
)

const (
	markOK  = "<<vlsim:ok>>"
	markErr = "<<vlsim:err>>"

	evalPrefix = "if {[catch {"
	evalSuffix = "} vlsim_r]} {puts $vlsim_r; puts {" + markErr + "}} else {puts $vlsim_r; puts {" + markOK + "}}"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the gtkwave package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the gtkwave package's logger.
func SetLogger(l *zap.Logger) {
	logger = l
}

// Options configures Start.
type Options struct {
	// Tool is the gtkwave executable; "gtkwave" when empty.
	Tool string
	// File is an optional dump file opened at startup.
	File string
	// Args are extra command-line arguments.
	Args []string
}

// Session is a live command channel.
type Session struct {
	r   *bufio.Reader
	w   io.Writer
	cmd *exec.Cmd
	in  io.Closer
}

// New wraps an existing channel, typically for tests or a remote viewer.
func New(rw io.ReadWriter) *Session {
	return &Session{r: bufio.NewReader(rw), w: rw}
}

// Start launches GTKWave with its Tcl channel on stdio.
func Start(ctx context.Context, opts Options) (*Session, error) {
	tool := opts.Tool
	if tool == "" {
		tool = "gtkwave"
	}
	path, err := exec.LookPath(tool)
	if err != nil {
		return nil, errors.ToolNotFound(errors.PhaseViewer, tool, err)
	}

	args := append([]string{"-W"}, opts.Args...)
	if opts.File != "" {
		args = append(args, opts.File)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseViewer, errors.KindInvalidData, err, "open viewer stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseViewer, errors.KindInvalidData, err, "open viewer stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.New(errors.PhaseViewer, errors.KindInvalidData).
			Command(path).
			Cause(err).
			Detail("start viewer").
			Build()
	}
	Logger().Debug("viewer started", zap.String("tool", path), zap.Strings("args", args))

	return &Session{r: bufio.NewReader(stdout), w: stdin, cmd: cmd, in: stdin}, nil
}

// Eval sends one Tcl command and returns its result.
func (s *Session) Eval(command string) (string, error) {
	Logger().Debug("viewer eval", zap.String("cmd", command))
	if _, err := io.WriteString(s.w, evalPrefix+command+evalSuffix+"\n"); err != nil {
		return "", errors.Wrap(errors.PhaseViewer, errors.KindProtocolMismatch, err, "write to viewer")
	}

	var lines []string
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return "", errors.Wrap(errors.PhaseViewer, errors.KindProtocolMismatch, err, "read from viewer")
		}
		line = strings.TrimRight(line, "\r\n")
		switch line {
		case markOK:
			return strings.Join(lines, "\n"), nil
		case markErr:
			return "", errors.New(errors.PhaseViewer, errors.KindProtocolMismatch).
				Command(command).
				Detail("%s", strings.Join(lines, "\n")).
				Build()
		}
		lines = append(lines, line)
	}
}

// LoadFile opens a dump file in the viewer.
func (s *Session) LoadFile(path string) error {
	_, err := s.Eval("gtkwave::loadFile " + Quote(path))
	return err
}

// Reload re-reads the current dump file.
func (s *Session) Reload() error {
	_, err := s.Eval("gtkwave::reLoadFile")
	return err
}

// ZoomFactor returns the current zoom factor.
func (s *Session) ZoomFactor() (float64, error) {
	out, err := s.Eval("gtkwave::getZoomFactor")
	if err != nil {
		return 0, err
	}
	return parseFloat(out)
}

// SetZoomFactor sets the zoom factor.
func (s *Session) SetZoomFactor(z float64) error {
	_, err := s.Eval("gtkwave::setZoomFactor " + strconv.FormatFloat(z, 'g', -1, 64))
	return err
}

// WindowStart returns the first visible time.
func (s *Session) WindowStart() (uint64, error) {
	out, err := s.Eval("gtkwave::getWindowStartTime")
	if err != nil {
		return 0, err
	}
	return parseUint(out)
}

// WindowEnd returns the last visible time.
func (s *Session) WindowEnd() (uint64, error) {
	out, err := s.Eval("gtkwave::getWindowEndTime")
	if err != nil {
		return 0, err
	}
	return parseUint(out)
}

// SetWindowStart scrolls the view to start at t.
func (s *Session) SetWindowStart(t uint64) error {
	_, err := s.Eval("gtkwave::setWindowStartTime " + strconv.FormatUint(t, 10))
	return err
}

// Fact is one signal known to the viewer.
type Fact struct {
	Index int
	Name  string
}

const factsScript = `set vlsim_n [gtkwave::getNumFacs]; set vlsim_l {}; ` +
	`for {set vlsim_i 0} {$vlsim_i < $vlsim_n} {incr vlsim_i} ` +
	`{lappend vlsim_l "$vlsim_i [gtkwave::getFacName $vlsim_i]"}; join $vlsim_l "\n"`

// Facts lists every signal in the loaded dump.
func (s *Session) Facts() ([]Fact, error) {
	out, err := s.Eval(factsScript)
	if err != nil {
		return nil, err
	}
	var facts []Fact
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		idx, name, ok := strings.Cut(line, " ")
		if !ok {
			return nil, errors.ProtocolMismatch("malformed fact line %q", line)
		}
		i, err := strconv.Atoi(idx)
		if err != nil {
			return nil, errors.ProtocolMismatch("malformed fact index %q", idx)
		}
		facts = append(facts, Fact{Index: i, Name: name})
	}
	return facts, nil
}

// AddSignals adds the named signals to the display. Names not present
// among the viewer's facts are dropped; when any are dropped the rest are
// still added and a protocol mismatch reporting the count is returned.
func (s *Session) AddSignals(signals []string) error {
	facts, err := s.Facts()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(facts))
	for _, f := range facts {
		known[f.Name] = true
	}

	var found []string
	for _, name := range signals {
		if known[name] {
			found = append(found, name)
		} else {
			Logger().Debug("viewer has no such signal", zap.String("name", name))
		}
	}

	if len(found) > 0 {
		quoted := make([]string, len(found))
		for i, n := range found {
			quoted[i] = Quote(n)
		}
		if _, err := s.Eval("gtkwave::addSignalsFromList [list " + strings.Join(quoted, " ") + "]"); err != nil {
			return err
		}
	}

	if len(found) != len(signals) {
		return errors.ProtocolMismatch("added %d of %d signals", len(found), len(signals))
	}
	return nil
}

// Close ends the session and waits for the viewer to exit.
func (s *Session) Close() error {
	io.WriteString(s.w, "exit\n")
	if s.in != nil {
		s.in.Close()
	}
	if s.cmd == nil {
		return nil
	}
	if err := s.cmd.Wait(); err != nil {
		Logger().Debug("viewer exited", zap.Error(err))
	}
	return nil
}

// SignalName returns the viewer's name for a signal: "TOP." followed by the
// dotted hierarchy and, for multi-bit signals, a "[msb:0]" range.
func SignalName(path names.Path, width int) string {
	name := "TOP." + path.Dotted()
	if width > 1 {
		name += fmt.Sprintf("[%d:0]", width-1)
	}
	return name
}

// Quote brace-quotes s as a single Tcl word.
func Quote(s string) string {
	if !strings.ContainsAny(s, "{}\\") {
		return "{" + s + "}"
	}
	var b strings.Builder
	for _, c := range s {
		if strings.ContainsRune("{}[]$\\\"; \t", c) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.ProtocolMismatch("expected a number, got %q", s)
	}
	return v, nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.ProtocolMismatch("expected a time, got %q", s)
	}
	return v, nil
}
