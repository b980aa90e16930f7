package sim

import (
	"context"
	"fmt"

	"github.com/wippyai/vlsim/errors"
	"github.com/wippyai/vlsim/gtkwave"
	"github.com/wippyai/vlsim/signal"
)

// Viewer is the subset of a waveform viewer session the simulation uses.
// *gtkwave.Session implements it.
type Viewer interface {
	LoadFile(path string) error
	Reload() error
	AddSignals(names []string) error
	WindowStart() (uint64, error)
	WindowEnd() (uint64, error)
	SetWindowStart(t uint64) error
	ZoomFactor() (float64, error)
	SetZoomFactor(z float64) error
	Close() error
}

// StartViewer launches GTKWave on the active trace file.
func (s *Simulation) StartViewer(ctx context.Context, opts gtkwave.Options) error {
	if s.trace == nil {
		return errors.StateMisuse(errors.PhaseViewer, "viewer needs an active trace")
	}
	if s.viewer != nil {
		return errors.StateMisuse(errors.PhaseViewer, "viewer already running")
	}
	opts.File = ""
	v, err := gtkwave.Start(ctx, opts)
	if err != nil {
		return err
	}
	if err := s.AttachViewer(v); err != nil {
		v.Close()
		return err
	}
	return nil
}

// AttachViewer adopts an already running viewer and loads the active
// trace file into it.
func (s *Simulation) AttachViewer(v Viewer) error {
	if s.trace == nil {
		return errors.StateMisuse(errors.PhaseViewer, "viewer needs an active trace")
	}
	if s.viewer != nil {
		return errors.StateMisuse(errors.PhaseViewer, "viewer already running")
	}
	if err := v.LoadFile(s.trace.file); err != nil {
		return err
	}
	s.viewer = v
	s.trace.shown = s.trace.time
	return nil
}

// refreshViewer reloads the dump after samples were flushed. When the
// visible window ended at the newest time the viewer had seen, the window
// is scrolled by the same amount the trace grew.
func (s *Simulation) refreshViewer() error {
	if s.viewer == nil || s.trace == nil {
		return nil
	}
	t := s.trace
	end, err := s.viewer.WindowEnd()
	if err != nil {
		return err
	}
	if err := s.viewer.Reload(); err != nil {
		return err
	}
	prev := t.shown
	t.shown = t.time
	if end < prev || t.time <= prev {
		return nil
	}
	start, err := s.viewer.WindowStart()
	if err != nil {
		return err
	}
	return s.viewer.SetWindowStart(start + t.time - prev)
}

// ViewerNames translates items to viewer signal names. Items may be
// *signal.Handle, *signal.Collection (all handles, recursively), *Clock
// or string (passed through).
func ViewerNames(items ...any) ([]string, error) {
	var out []string
	add := func(h *signal.Handle) error {
		out = append(out, gtkwave.SignalName(h.Hierarchy(), h.Width()))
		return nil
	}
	for _, item := range items {
		switch v := item.(type) {
		case *signal.Handle:
			add(v)
		case *signal.Collection:
			// add never fails
			_ = v.Walk(add)
		case *Clock:
			add(v.handle)
		case string:
			out = append(out, v)
		default:
			return nil, errors.Precondition(errors.PhaseViewer, "cannot show %s in the viewer", fmt.Sprintf("%T", item))
		}
	}
	return out, nil
}

// SendToViewer adds items to the viewer's display; see ViewerNames.
func (s *Simulation) SendToViewer(items ...any) error {
	if s.viewer == nil {
		return errors.StateMisuse(errors.PhaseViewer, "viewer not started")
	}
	names, err := ViewerNames(items...)
	if err != nil {
		return err
	}
	return s.viewer.AddSignals(names)
}

// ReloadViewer makes the viewer re-read the trace file.
func (s *Simulation) ReloadViewer() error {
	if s.viewer == nil {
		return errors.StateMisuse(errors.PhaseViewer, "viewer not started")
	}
	return s.viewer.Reload()
}

// ViewerZoom returns the viewer's zoom factor.
func (s *Simulation) ViewerZoom() (float64, error) {
	if s.viewer == nil {
		return 0, errors.StateMisuse(errors.PhaseViewer, "viewer not started")
	}
	return s.viewer.ZoomFactor()
}

// SetViewerZoom sets the viewer's zoom factor.
func (s *Simulation) SetViewerZoom(z float64) error {
	if s.viewer == nil {
		return errors.StateMisuse(errors.PhaseViewer, "viewer not started")
	}
	return s.viewer.SetZoomFactor(z)
}

// StopViewer closes the viewer.
func (s *Simulation) StopViewer() error {
	if s.viewer == nil {
		return errors.StateMisuse(errors.PhaseViewer, "viewer not started")
	}
	v := s.viewer
	s.viewer = nil
	return v.Close()
}

// Viewing reports whether a viewer is attached.
func (s *Simulation) Viewing() bool { return s.viewer != nil }
