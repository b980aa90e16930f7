package verilator

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
)

// VL_IN8(clk,0,0); VL_OUTW(&q,69,0,3); VL_SIG16(top__DOT__r,15,0);
var declMacro = regexp.MustCompile(`(VL_(IN|OUT|SIG)[^(]*)\(([^,]+),([0-9]+),([0-9]+)(?:,[0-9]+)?\);`)

// CData/*7:0*/ top__DOT__r; as emitted for internal state since 4.2
var declTyped = regexp.MustCompile(`^\s*(?:CData|SData|IData|QData|VlWide<[0-9]+>)/\*([0-9]+):([0-9]+)\*/\s+([A-Za-z_][A-Za-z0-9_]*);`)

// Signals are the descriptor lists found in generated headers.
type Signals struct {
	Inputs    []abi.Descriptor
	Outputs   []abi.Descriptor
	Internals []abi.Descriptor
}

// ScanHeader extracts port and internal signal declarations from a
// Verilator-generated header. Internal signals are kept only when their
// name starts with module, holds no '[' and has a zero low bit.
func ScanHeader(r io.Reader, module string) (Signals, error) {
	var s Signals
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := declMacro.FindStringSubmatch(line); m != nil {
			name := strings.TrimPrefix(strings.TrimSpace(m[3]), "&")
			msb, _ := strconv.Atoi(m[4])
			lsb, _ := strconv.Atoi(m[5])
			d := abi.Descriptor{Name: name, Width: msb - lsb + 1}
			switch m[2] {
			case "IN":
				s.Inputs = append(s.Inputs, d)
			case "OUT":
				s.Outputs = append(s.Outputs, d)
			case "SIG":
				if keepInternal(name, module, lsb) {
					s.Internals = append(s.Internals, d)
				}
			}
			continue
		}
		if m := declTyped.FindStringSubmatch(line); m != nil {
			msb, _ := strconv.Atoi(m[1])
			lsb, _ := strconv.Atoi(m[2])
			if keepInternal(m[3], module, lsb) {
				s.Internals = append(s.Internals, abi.Descriptor{Name: m[3], Width: msb - lsb + 1})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return s, errors.Wrap(errors.PhaseBuild, errors.KindInvalidData, err, "scan header")
	}
	return s, nil
}

func keepInternal(name, module string, lsb int) bool {
	if !strings.HasPrefix(name, module) || strings.Contains(name, "[") || lsb != 0 {
		Logger().Debug("skip internal signal", zap.String("name", name), zap.Int("lsb", lsb))
		return false
	}
	return true
}

// Merge appends the signals of o not already present by name.
func (s Signals) Merge(o Signals) Signals {
	seen := make(map[string]bool)
	for _, list := range [][]abi.Descriptor{s.Inputs, s.Outputs, s.Internals} {
		for _, d := range list {
			seen[d.Name] = true
		}
	}
	add := func(dst, src []abi.Descriptor) []abi.Descriptor {
		for _, d := range src {
			if !seen[d.Name] {
				seen[d.Name] = true
				dst = append(dst, d)
			}
		}
		return dst
	}
	s.Inputs = add(s.Inputs, o.Inputs)
	s.Outputs = add(s.Outputs, o.Outputs)
	s.Internals = add(s.Internals, o.Internals)
	return s
}

// ScanBuildDir scans V<module>.h and, when present, V<module>___024root.h.
// viaRoot reports whether internal signals came from the root class.
func ScanBuildDir(buildDir, module string) (sig Signals, viaRoot bool, err error) {
	top := filepath.Join(buildDir, "V"+module+".h")
	sig, err = scanFile(top, module)
	if err != nil {
		return sig, false, err
	}

	root := filepath.Join(buildDir, "V"+module+"___024root.h")
	if _, statErr := os.Stat(root); statErr != nil {
		return sig, false, nil
	}
	rs, err := scanFile(root, module)
	if err != nil {
		return sig, false, err
	}
	viaRoot = len(sig.Internals) == 0 && len(rs.Internals) > 0
	return sig.Merge(rs), viaRoot, nil
}

func scanFile(path, module string) (Signals, error) {
	f, err := os.Open(path)
	if err != nil {
		return Signals{}, errors.Wrap(errors.PhaseBuild, errors.KindInvalidData, err, "open generated header")
	}
	defer f.Close()
	return ScanHeader(f, module)
}
