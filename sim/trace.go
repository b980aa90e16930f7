package sim

import (
	"go.uber.org/zap"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
)

// TraceStep is the logical time between two trace samples.
const TraceStep = 5

// DefaultTraceDepth records the full hierarchy.
const DefaultTraceDepth = 99

// TraceMode selects what appends to an active trace automatically.
type TraceMode uint8

const (
	// TraceManual appends only on AddToTrace.
	TraceManual TraceMode = iota
	// TraceOnClock appends after every write to the bound clock.
	TraceOnClock
	// TraceOnEval appends after every eval.
	TraceOnEval
)

func (m TraceMode) String() string {
	switch m {
	case TraceManual:
		return "manual"
	case TraceOnClock:
		return "clock"
	case TraceOnEval:
		return "eval"
	default:
		return "unknown"
	}
}

// TraceSession is one open waveform dump.
type TraceSession struct {
	handle abi.Trace
	file   string
	time   uint64
	mode   TraceMode
	depth  int
	shown  uint64 // newest time an attached viewer has loaded
}

// File returns the dump file name.
func (t *TraceSession) File() string { return t.file }

// Time returns the logical time of the last sample.
func (t *TraceSession) Time() uint64 { return t.time }

// Mode returns the automatic append mode.
func (t *TraceSession) Mode() TraceMode { return t.mode }

// Depth returns the hierarchy depth being dumped.
func (t *TraceSession) Depth() int { return t.depth }

type traceOptions struct {
	manual bool
	depth  int
}

// TraceOption configures StartTrace.
type TraceOption func(*traceOptions)

// WithoutAutoTrace disables automatic appends; only AddToTrace records.
func WithoutAutoTrace() TraceOption {
	return func(o *traceOptions) { o.manual = true }
}

// WithTraceDepth limits how many hierarchy levels are dumped.
func WithTraceDepth(depth int) TraceOption {
	return func(o *traceOptions) { o.depth = depth }
}

// StartTrace opens filename as a waveform dump and records the current
// state at time 0+TraceStep. Unless disabled, samples are then appended
// after every clock write when a clock is bound, or after every eval
// otherwise.
func (s *Simulation) StartTrace(filename string, opts ...TraceOption) error {
	if err := s.alive(); err != nil {
		return err
	}
	if s.trace != nil {
		return errors.StateMisuse(errors.PhaseTrace, "trace already active on "+s.trace.file)
	}
	o := traceOptions{depth: DefaultTraceDepth}
	for _, opt := range opts {
		opt(&o)
	}
	if o.depth <= 0 {
		return errors.Precondition(errors.PhaseTrace, "trace depth must be positive, got %d", o.depth)
	}

	h, err := s.lib.StartTrace(s.model, filename, o.depth)
	if err != nil {
		return errors.New(errors.PhaseTrace, errors.KindInvalidData).
			Path(filename).
			Cause(err).
			Detail("open trace").
			Build()
	}

	mode := TraceOnEval
	switch {
	case o.manual:
		mode = TraceManual
	case s.clock != nil:
		mode = TraceOnClock
	}
	s.trace = &TraceSession{handle: h, file: filename, mode: mode, depth: o.depth}
	Logger().Debug("trace started",
		zap.String("file", filename),
		zap.Stringer("mode", mode),
		zap.Int("depth", o.depth))

	if err := s.AddToTrace(); err != nil {
		s.trace = nil
		if stopErr := s.lib.StopTrace(h); stopErr != nil {
			Logger().Warn("stop trace after failed start", zap.String("file", filename), zap.Error(stopErr))
		}
		return err
	}
	return nil
}

// AddToTrace appends two samples, TraceStep apart, so the latest value is
// visible as a segment in a viewer, then flushes.
func (s *Simulation) AddToTrace() error {
	if s.trace == nil {
		return errors.StateMisuse(errors.PhaseTrace, "no active trace")
	}
	for i := 0; i < 2; i++ {
		s.trace.time += TraceStep
		if err := s.lib.AddTrace(s.trace.handle, s.trace.time); err != nil {
			return errors.Wrap(errors.PhaseTrace, errors.KindInvalidData, err, "append trace sample")
		}
	}
	return s.FlushTrace()
}

// FlushTrace writes buffered samples to the dump file and reloads an
// attached viewer.
func (s *Simulation) FlushTrace() error {
	if s.trace == nil {
		return errors.StateMisuse(errors.PhaseTrace, "no active trace")
	}
	if err := s.lib.FlushTrace(s.trace.handle); err != nil {
		return errors.Wrap(errors.PhaseTrace, errors.KindInvalidData, err, "flush trace")
	}
	return s.refreshViewer()
}

// StopTrace closes the dump.
func (s *Simulation) StopTrace() error {
	if s.trace == nil {
		return errors.StateMisuse(errors.PhaseTrace, "no active trace")
	}
	t := s.trace
	s.trace = nil
	if err := s.lib.StopTrace(t.handle); err != nil {
		return errors.Wrap(errors.PhaseTrace, errors.KindInvalidData, err, "stop trace")
	}
	Logger().Debug("trace stopped", zap.String("file", t.file), zap.Uint64("time", t.time))
	return nil
}

// Tracing reports whether a trace is active.
func (s *Simulation) Tracing() bool { return s.trace != nil }

// Trace returns the active session.
func (s *Simulation) Trace() (*TraceSession, bool) {
	return s.trace, s.trace != nil
}

// TraceFile returns the active dump file name, "" when not tracing.
func (s *Simulation) TraceFile() string {
	if s.trace == nil {
		return ""
	}
	return s.trace.file
}
