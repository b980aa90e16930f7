// Package sim is the facade over one loaded model: signal access with
// automatic evaluation, clock helpers, waveform recording, the $finish
// hook and the waveform viewer bridge.
//
// A Simulation is single-threaded. Every call runs to completion before
// returning and nothing is evaluated in the background.
package sim

import (
	"math/big"

	"go.uber.org/zap"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
	"github.com/wippyai/vlsim/signal"
)

type options struct {
	autoEval    bool
	commandArgs []string
	clockName   *string
}

// Option configures New.
type Option func(*options)

// WithAutoEval controls whether every input write evaluates the model
// before returning. It is on by default.
func WithAutoEval(on bool) Option {
	return func(o *options) { o.autoEval = on }
}

// WithCommandArgs passes plusargs to the model, as seen by $test$plusargs.
func WithCommandArgs(args []string) Option {
	return func(o *options) { o.commandArgs = append([]string(nil), args...) }
}

// WithClockName binds the named input as the clock instead of detecting
// one. An empty name disables the clock.
func WithClockName(name string) Option {
	return func(o *options) { o.clockName = &name }
}

// Simulation is one constructed model inside a loaded library.
type Simulation struct {
	lib      abi.Library
	meta     *abi.Metadata
	model    abi.Model
	hasModel bool

	binding   *signal.Binding
	io        *signal.Collection
	internals *signal.Collection
	byRaw     map[string]*signal.Handle

	autoEval bool
	clock    *Clock
	trace    *TraceSession
	viewer   Viewer
	onFinish func(abi.FinishEvent)
	closed   bool
}

// New constructs a model in lib and takes ownership of lib: Close releases
// both. On failure everything acquired so far, lib included, is released.
//
// Every input is written 0 before New returns.
func New(lib abi.Library, opts ...Option) (*Simulation, error) {
	o := options{autoEval: true}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Simulation{lib: lib, autoEval: o.autoEval}
	if err := s.init(o); err != nil {
		if cerr := s.Close(); cerr != nil {
			Logger().Warn("cleanup after failed construction", zap.Error(cerr))
		}
		return nil, err
	}
	return s, nil
}

func (s *Simulation) init(o options) error {
	meta, err := s.lib.Metadata()
	if err != nil {
		return errors.Load("read artifact metadata", err)
	}
	if err := meta.Validate(); err != nil {
		return errors.Load("artifact metadata", err)
	}
	s.meta = meta

	if len(o.commandArgs) > 0 {
		if err := s.lib.SetCommandArgs(o.commandArgs); err != nil {
			return errors.Load("set command args", err)
		}
	}

	m, err := s.lib.Construct()
	if err != nil {
		return errors.Load("construct model", err)
	}
	s.model, s.hasModel = m, true

	if err := s.lib.SetFinishCallback(s.dispatchFinish); err != nil {
		return errors.Load("install finish callback", err)
	}

	s.binding = &signal.Binding{Library: s.lib, Model: m, AfterWrite: s.afterWrite}
	s.io = signal.NewIO(s.binding, meta)
	s.internals = signal.NewInternals(s.binding, meta)
	s.byRaw = make(map[string]*signal.Handle)
	for _, h := range s.io.Handles() {
		s.byRaw[h.Signal().Name] = h
	}
	for _, h := range s.internals.Handles() {
		s.byRaw[h.Signal().Name] = h
	}

	if err := s.bindClock(o.clockName); err != nil {
		return err
	}

	for _, d := range meta.Inputs {
		h, err := s.io.Handle(d.Name)
		if err != nil {
			return err
		}
		if err := h.Write(new(big.Int)); err != nil {
			return err
		}
	}

	Logger().Debug("simulation ready",
		zap.String("module", meta.Module),
		zap.String("artifact", s.lib.Path()),
		zap.Int("inputs", len(meta.Inputs)),
		zap.Int("outputs", len(meta.Outputs)),
		zap.Int("internals", len(meta.Internals)))
	return nil
}

func (s *Simulation) dispatchFinish(ev abi.FinishEvent) {
	Logger().Debug("$finish", zap.String("file", ev.File), zap.Int("line", ev.Line))
	if s.onFinish != nil {
		s.onFinish(ev)
	}
}

// afterWrite is the post-write hook shared by every handle.
func (s *Simulation) afterWrite(h *signal.Handle) error {
	if s.autoEval {
		if err := s.Eval(); err != nil {
			return err
		}
	}
	if s.trace != nil && s.trace.mode == TraceOnClock && s.clock != nil && h == s.clock.handle {
		return s.AddToTrace()
	}
	return nil
}

func (s *Simulation) alive() error {
	if s.closed || !s.hasModel {
		return errors.NotInitialized(errors.PhaseRuntime, "model")
	}
	return nil
}

// Eval evaluates the model once. While tracing in eval mode it also
// appends to the trace.
func (s *Simulation) Eval() error {
	if err := s.alive(); err != nil {
		return err
	}
	if err := s.lib.Eval(s.model); err != nil {
		return errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "eval")
	}
	if s.trace != nil && s.trace.mode == TraceOnEval {
		return s.AddToTrace()
	}
	return nil
}

// Time returns the model's own eval counter.
func (s *Simulation) Time() (uint64, error) {
	if err := s.alive(); err != nil {
		return 0, err
	}
	return s.lib.Time(s.model)
}

// Metadata returns the descriptors read from the artifact.
func (s *Simulation) Metadata() *abi.Metadata { return s.meta }

// Module returns the top module name.
func (s *Simulation) Module() string { return s.meta.Module }

// JSON returns the payload embedded at build time, nil when there is none.
func (s *Simulation) JSON() []byte {
	if s.meta.JSON == nil {
		return nil
	}
	return append([]byte(nil), s.meta.JSON...)
}

// IO returns the collection of inputs and outputs.
func (s *Simulation) IO() *signal.Collection { return s.io }

// Internals returns the collection of internal signals, nested by scope.
func (s *Simulation) Internals() *signal.Collection { return s.internals }

// Handle resolves name as a port, a dotted internal path, or a raw
// internal identifier, in that order.
func (s *Simulation) Handle(name string) (*signal.Handle, error) {
	if h, err := s.io.Handle(name); err == nil {
		return h, nil
	}
	if h, err := s.internals.Lookup(name); err == nil {
		return h, nil
	}
	if h, ok := s.byRaw[name]; ok {
		return h, nil
	}
	return nil, errors.NoSuchSignal(name)
}

// Contains reports whether Handle would resolve name.
func (s *Simulation) Contains(name string) bool {
	_, err := s.Handle(name)
	return err == nil
}

// Read returns the current value of name.
func (s *Simulation) Read(name string) (*big.Int, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	h, err := s.Handle(name)
	if err != nil {
		return nil, err
	}
	return h.Value()
}

// ReadUint64 returns the low 64 bits of name.
func (s *Simulation) ReadUint64(name string) (uint64, error) {
	v, err := s.Read(name)
	if err != nil {
		return 0, err
	}
	return abi.Mask(v, 64).Uint64(), nil
}

// Write stores v into the input name.
func (s *Simulation) Write(name string, v *big.Int) error {
	if err := s.alive(); err != nil {
		return err
	}
	h, err := s.Handle(name)
	if err != nil {
		return err
	}
	return h.Write(v)
}

// WriteUint64 is Write for values that fit in 64 bits.
func (s *Simulation) WriteUint64(name string, v uint64) error {
	return s.Write(name, new(big.Int).SetUint64(v))
}

// Finished reports whether the design has executed $finish.
func (s *Simulation) Finished() (bool, error) {
	if err := s.alive(); err != nil {
		return false, err
	}
	return s.lib.Finished()
}

// SetFinished overrides the finished flag.
func (s *Simulation) SetFinished(v bool) error {
	if err := s.alive(); err != nil {
		return err
	}
	return s.lib.SetFinished(v)
}

// OnFinish registers fn to run when the design executes $finish. It
// replaces any earlier callback; nil removes it.
func (s *Simulation) OnFinish(fn func(abi.FinishEvent)) {
	s.onFinish = fn
}

// Close stops the viewer and any trace, destroys the model and releases
// the library. It is safe to call more than once.
func (s *Simulation) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var first error
	keep := func(err error, what string) {
		if err == nil {
			return
		}
		Logger().Warn("close", zap.String("step", what), zap.Error(err))
		if first == nil {
			first = err
		}
	}

	if s.viewer != nil {
		keep(s.viewer.Close(), "viewer")
		s.viewer = nil
	}
	if s.trace != nil {
		keep(s.lib.StopTrace(s.trace.handle), "trace")
		s.trace = nil
	}
	if s.hasModel {
		keep(s.lib.SetFinishCallback(nil), "finish callback")
		keep(s.lib.Destruct(s.model), "destruct")
		s.hasModel = false
	}
	keep(s.lib.Close(), "library")
	return first
}
