//go:build !(darwin || freebsd || linux)

package native

import (
	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
)

// Library is unavailable on this platform.
type Library struct {
	abi.Library
}

// Open always fails on platforms without dlopen.
func Open(path string) (*Library, error) {
	return nil, errors.Unsupported(errors.PhaseLoad, "native artifacts on this platform")
}
