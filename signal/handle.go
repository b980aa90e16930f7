// Package signal binds signal descriptors of a loaded model to typed
// read/write handles and groups them into ordered collections.
package signal

import (
	"math/big"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
	"github.com/wippyai/vlsim/names"
)

// Binding ties handles to one live model.
type Binding struct {
	Library abi.Library
	Model   abi.Model

	// AfterWrite runs after every successful write, before Write returns.
	AfterWrite func(h *Handle) error
}

// Handle reads and writes one signal of a live model.
type Handle struct {
	binding *Binding
	sig     abi.Signal
	key     string
	path    names.Path
	hier    names.Path
}

// Name returns the key the handle is stored under in its collection.
func (h *Handle) Name() string { return h.key }

// Path returns the handle's path relative to its root collection.
func (h *Handle) Path() names.Path { return h.path }

// Hierarchy returns the full design hierarchy of the signal, including
// the top module for internal signals.
func (h *Handle) Hierarchy() names.Path { return h.hier }

// Signal returns the descriptor and flat accessor index.
func (h *Handle) Signal() abi.Signal { return h.sig }

func (h *Handle) Width() int { return h.sig.Width }

func (h *Handle) Category() abi.Category { return h.sig.Category }

func (h *Handle) Writable() bool { return h.sig.Writable() }

// Value reads the current value.
func (h *Handle) Value() (*big.Int, error) {
	v, err := abi.Read(h.binding.Library, h.binding.Model, h.sig.Index, h.sig.Width)
	if err != nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Path(h.path...).
			Cause(err).
			Detail("read failed").
			Build()
	}
	return v, nil
}

// Uint64 reads the low 64 bits of the current value.
func (h *Handle) Uint64() (uint64, error) {
	v, err := h.Value()
	if err != nil {
		return 0, err
	}
	return abi.Mask(v, 64).Uint64(), nil
}

// Write stores v masked to the signal width. Only inputs are writable.
func (h *Handle) Write(v *big.Int) error {
	if !h.sig.Writable() {
		return errors.NotWritable(h.path.Dotted())
	}
	if err := abi.Write(h.binding.Library, h.binding.Model, h.sig.Index, h.sig.Width, v); err != nil {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Path(h.path...).
			Cause(err).
			Detail("write failed").
			Build()
	}
	if h.binding.AfterWrite != nil {
		return h.binding.AfterWrite(h)
	}
	return nil
}

// WriteUint64 is Write for values that fit in 64 bits.
func (h *Handle) WriteUint64(v uint64) error {
	return h.Write(new(big.Int).SetUint64(v))
}

// String renders "name = <width>'h<hex>".
func (h *Handle) String() string {
	v, err := h.Value()
	if err != nil {
		return h.path.Dotted() + " = <" + err.Error() + ">"
	}
	return h.path.Dotted() + " = " + abi.FormatHex(v, h.sig.Width)
}
