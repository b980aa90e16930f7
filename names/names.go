package names

import (
	"strconv"
	"strings"

	"github.com/wippyai/vlsim/errors"
)

// Markers used by Verilator when flattening hierarchical names into C++ identifiers.
const (
	sepDot  = "__DOT__"
	escape  = "__0"
	markBra = "__BRA__"
	markKet = "__KET__"
)

// Path is a decoded hierarchical name, outermost segment first.
type Path []string

// Dotted joins the segments with '.'.
func (p Path) Dotted() string {
	return strings.Join(p, ".")
}

// Raw re-encodes the path into the identifier Verilator would emit.
func (p Path) Raw() string {
	enc := make([]string, len(p))
	for i, seg := range p {
		enc[i] = Encode(seg)
	}
	return strings.Join(enc, sepDot)
}

// Leaf returns the innermost segment, or "" for an empty path.
func (p Path) Leaf() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Clone returns a copy of p that does not share storage.
func (p Path) Clone() Path {
	return append(Path(nil), p...)
}

func (p Path) String() string {
	return p.Dotted()
}

type options struct {
	dropTop bool
}

// Option configures Decode.
type Option func(*options)

// DropTop removes the leading module segment from the decoded path.
func DropTop() Option {
	return func(o *options) { o.dropTop = true }
}

// Decode splits a raw escaped identifier into its hierarchy segments and
// resolves every "__0XX" escape into the byte with hex value XX.
//
// Names carrying array markers (__BRA__/__KET__) are rejected.
func Decode(raw string, opts ...Option) (Path, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if raw == "" {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, "empty name")
	}
	if strings.Contains(raw, markBra) {
		return nil, errors.UnsupportedName(raw, markBra)
	}
	if strings.Contains(raw, markKet) {
		return nil, errors.UnsupportedName(raw, markKet)
	}

	parts := strings.Split(raw, sepDot)
	path := make(Path, 0, len(parts))
	for _, part := range parts {
		seg, err := decodeSegment(raw, part)
		if err != nil {
			return nil, err
		}
		path = append(path, seg)
	}

	if o.dropTop {
		path = path[1:]
	}
	return path, nil
}

// decodeSegment resolves escapes within one hierarchy level.
func decodeSegment(raw, part string) (string, error) {
	pieces := strings.Split(part, escape)
	if len(pieces) == 1 {
		return part, nil
	}

	var b strings.Builder
	b.Grow(len(part))
	b.WriteString(pieces[0])
	for _, piece := range pieces[1:] {
		if len(piece) < 2 {
			return "", errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Value(raw).
				Detail("truncated escape in %q", raw).
				Build()
		}
		v, err := strconv.ParseUint(piece[:2], 16, 8)
		if err != nil {
			return "", errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Value(raw).
				Cause(err).
				Detail("bad escape %q in %q", escape+piece[:2], raw).
				Build()
		}
		b.WriteByte(byte(v))
		b.WriteString(piece[2:])
	}
	return b.String(), nil
}

// Encode escapes one hierarchy segment the way Verilator does: letters
// (and digits after the first position) pass through, a doubled underscore
// becomes "___05F" and any other byte becomes "__0XX".
func Encode(seg string) string {
	var b strings.Builder
	b.Grow(len(seg))
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case isAlpha(c) || (i > 0 && isDigit(c)):
			b.WriteByte(c)
		case c == '_':
			if i+1 < len(seg) && seg[i+1] == '_' {
				b.WriteString("___05F")
				i++
			} else {
				b.WriteByte('_')
			}
		default:
			b.WriteString(escape)
			b.WriteString(strings.ToUpper(strconv.FormatUint(uint64(c)|0x100, 16)[1:]))
		}
	}
	return b.String()
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
