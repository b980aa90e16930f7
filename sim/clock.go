package sim

import (
	"strings"

	"github.com/wippyai/vlsim/errors"
	"github.com/wippyai/vlsim/signal"
)

// ClockTokens are the names clock detection looks for.
var ClockTokens = []string{"clk", "clock"}

// ErrNoClock is returned by tick helpers when no clock is bound.
var ErrNoClock = errors.New(errors.PhaseRuntime, errors.KindStateMisuse).
	Detail("no clock bound").
	Build()

// Clock is the input driving the design's registers.
type Clock struct {
	sim    *Simulation
	handle *signal.Handle
}

// Handle returns the clock's signal handle.
func (c *Clock) Handle() *signal.Handle { return c.handle }

// Name returns the clock input's name.
func (c *Clock) Name() string { return c.handle.Name() }

// Tick writes 0 then 1, producing exactly one rising edge.
func (c *Clock) Tick() error {
	if err := c.handle.WriteUint64(0); err != nil {
		return err
	}
	return c.handle.WriteUint64(1)
}

// Clock returns the bound clock.
func (s *Simulation) Clock() (*Clock, bool) {
	return s.clock, s.clock != nil
}

// Tick advances the bound clock n times.
func (s *Simulation) Tick(n int) error {
	if s.clock == nil {
		return ErrNoClock
	}
	for i := 0; i < n; i++ {
		if err := s.clock.Tick(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulation) bindClock(name *string) error {
	if name != nil {
		if *name == "" {
			return nil
		}
		h, err := s.io.Handle(*name)
		if err != nil {
			return err
		}
		if !h.Writable() {
			return errors.Precondition(errors.PhaseRuntime, "clock %q is not an input", *name)
		}
		s.clock = &Clock{sim: s, handle: h}
		return nil
	}

	if h := DetectClock(s.io); h != nil {
		s.clock = &Clock{sim: s, handle: h}
	}
	return nil
}

// DetectClock picks the clock among the single-bit inputs of io. A name
// equal to a clock token wins over one starting with a token, which wins
// over one ending with a token; ties go to the earlier input. Matching
// ignores case.
func DetectClock(io *signal.Collection) *signal.Handle {
	var inputs []*signal.Handle
	for _, k := range io.Keys() {
		h, err := io.Handle(k)
		if err != nil || !h.Writable() || h.Width() != 1 {
			continue
		}
		inputs = append(inputs, h)
	}

	for _, match := range []func(name, token string) bool{
		func(n, t string) bool { return n == t },
		strings.HasPrefix,
		strings.HasSuffix,
	} {
		for _, h := range inputs {
			name := strings.ToLower(h.Name())
			for _, tok := range ClockTokens {
				if match(name, tok) {
					return h
				}
			}
		}
	}
	return nil
}
