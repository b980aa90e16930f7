package abi

import (
	"fmt"

	"github.com/wippyai/vlsim/errors"
)

// Category classifies a signal by direction.
type Category uint8

const (
	Input Category = iota
	Output
	Internal
)

func (c Category) String() string {
	switch c {
	case Input:
		return "input"
	case Output:
		return "output"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Descriptor names one signal and its bit width as emitted by Verilator.
// For internal signals Name is the raw escaped identifier.
type Descriptor struct {
	Name  string
	Width int
}

// Signal is a descriptor placed in the flat accessor index space:
// inputs first, then outputs, then internal signals.
type Signal struct {
	Descriptor
	Category Category
	Index    int
}

// Writable reports whether the signal accepts writes.
func (s Signal) Writable() bool {
	return s.Category == Input
}

// Metadata is the self-describing block embedded in every artifact.
type Metadata struct {
	Module      string
	Inputs      []Descriptor
	Outputs     []Descriptor
	Internals   []Descriptor
	JSON        []byte
	TraceFormat string
}

// Signals returns every signal with its flat index.
func (m *Metadata) Signals() []Signal {
	out := make([]Signal, 0, len(m.Inputs)+len(m.Outputs)+len(m.Internals))
	idx := 0
	for _, group := range []struct {
		cat   Category
		descs []Descriptor
	}{
		{Input, m.Inputs},
		{Output, m.Outputs},
		{Internal, m.Internals},
	} {
		for _, d := range group.descs {
			out = append(out, Signal{Descriptor: d, Category: group.cat, Index: idx})
			idx++
		}
	}
	return out
}

// Validate checks that every descriptor has a name, a positive width and
// that names are unique across all categories.
func (m *Metadata) Validate() error {
	return ValidateDescriptors(m.Inputs, m.Outputs, m.Internals)
}

// ValidateDescriptors applies the Metadata.Validate rules to loose lists.
func ValidateDescriptors(inputs, outputs, internals []Descriptor) error {
	seen := make(map[string]Category)
	for _, group := range []struct {
		cat   Category
		descs []Descriptor
	}{
		{Input, inputs},
		{Output, outputs},
		{Internal, internals},
	} {
		for i, d := range group.descs {
			if d.Name == "" {
				return errors.Precondition(errors.PhaseGenerate, "%s signal #%d has no name", group.cat, i)
			}
			if d.Width <= 0 {
				return errors.New(errors.PhaseGenerate, errors.KindPrecondition).
					Path(d.Name).
					Value(d.Width).
					Detail("width must be positive, got %d", d.Width).
					Build()
			}
			if prev, dup := seen[d.Name]; dup {
				return errors.New(errors.PhaseGenerate, errors.KindPrecondition).
					Path(d.Name).
					Detail("duplicate signal name (%s and %s)", prev, group.cat).
					Build()
			}
			seen[d.Name] = group.cat
		}
	}
	return nil
}
