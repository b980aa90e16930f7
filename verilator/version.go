package verilator

import (
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/wippyai/vlsim/errors"
)

var (
	flushCallBroken = version.MustConstraints(version.NewConstraint(">= 4.036, <= 4.102"))
	testbenchOK     = version.MustConstraints(version.NewConstraint("> 5.002"))
	rootClass       = version.MustConstraints(version.NewConstraint(">= 4.200"))
)

// ParseVersion extracts the release from "verilator --version" output,
// e.g. "Verilator 5.020 2024-01-01 rev v5.020".
func ParseVersion(out string) (*version.Version, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "verilator") {
		return nil, errors.InvalidData(errors.PhaseBuild, nil, "unrecognized version output: "+strings.TrimSpace(out))
	}
	v, err := version.NewVersion(fields[1])
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBuild, errors.KindInvalidData, err, "parse verilator version "+fields[1])
	}
	return v, nil
}

// FlushCallOK reports whether Verilated::flushCall exists in release v.
// Releases 4.036 through 4.102 dropped it.
func FlushCallOK(v *version.Version) bool {
	return !flushCallBroken.Check(v)
}

// VerilogTestbenchOK reports whether v can compile a Verilog testbench
// with timing constructs.
func VerilogTestbenchOK(v *version.Version) bool {
	return testbenchOK.Check(v)
}

// RootClass reports whether v places design state in V<top>___024root.
func RootClass(v *version.Version) bool {
	return rootClass.Check(v)
}
