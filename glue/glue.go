package glue

import (
	_ "embed"
	"strconv"
	"strings"
	"text/template"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
)

//go:embed glue.cpp.tmpl
var glueTemplate string

var tmpl = template.Must(template.New("glue").Funcs(template.FuncMap{
	"names":  cNames,
	"widths": cWidths,
}).Parse(glueTemplate))

// Version identifies the entry points the generated glue exports. It
// changes whenever the artifact ABI does.
const Version = "3"

// Trace formats understood by the generated glue.
const (
	TraceVCD = "vcd"
	TraceFST = "fst"
)

// Options describes the module the glue wraps.
type Options struct {
	// Module is the top module name; the Verilated class is "V" + Module.
	Module    string
	Inputs    []abi.Descriptor
	Outputs   []abi.Descriptor
	Internals []abi.Descriptor

	// InternalsViaRoot reaches internal signals through top->rootp, as
	// Verilator 4.2 and later place them in the V<top>___024root class.
	InternalsViaRoot bool

	// JSON is embedded verbatim; nil leaves the payload absent.
	JSON []byte

	// TraceFormat is TraceVCD (default) or TraceFST.
	TraceFormat string

	// FlushCall emits Verilated::flushCall on the second $finish. Only
	// some Verilator releases provide it.
	FlushCall bool
}

type signal struct {
	Name     string
	Width    int
	Index    int
	Tier     int
	Writable bool
	Access   string
}

type data struct {
	Module           string
	Class            string
	Inputs           []signal
	Outputs          []signal
	Internals        []signal
	All              []signal
	JSON             string
	JSONSize         int
	TraceFormat      string
	FST              bool
	FlushCall        bool
	InternalsViaRoot bool
}

// entryPoints are the fixed functions the glue exports next to the
// per-signal get_/set_ accessors.
var entryPoints = map[string]bool{
	"get_finished":           true,
	"set_finished":           true,
	"set_vl_finish_callback": true,
	"set_command_args":       true,
}

// reservedAccessor returns the accessor symbol of name that would clash
// with an entry point.
func reservedAccessor(name string) (string, bool) {
	for _, sym := range []string{"get_" + name, "set_" + name} {
		if entryPoints[sym] {
			return sym, true
		}
	}
	return "", false
}

// Validate rejects descriptor lists the glue cannot be generated from:
// empty or non-identifier names, non-positive widths, duplicates and
// names whose accessors clash with the glue's own entry points.
func Validate(inputs, outputs, internals []abi.Descriptor) error {
	if err := abi.ValidateDescriptors(inputs, outputs, internals); err != nil {
		return err
	}
	for _, list := range [][]abi.Descriptor{inputs, outputs, internals} {
		for _, d := range list {
			if !isIdent(d.Name) {
				return errors.New(errors.PhaseGenerate, errors.KindPrecondition).
					Path(d.Name).
					Detail("not a C identifier").
					Build()
			}
			if sym, ok := reservedAccessor(d.Name); ok {
				return errors.New(errors.PhaseGenerate, errors.KindPrecondition).
					Path(d.Name).
					Detail("accessor %s collides with a glue entry point", sym).
					Build()
			}
		}
	}
	return nil
}

// Generate returns the C++ glue source for opts.
func Generate(opts Options) (string, error) {
	if !isIdent(opts.Module) {
		return "", errors.Precondition(errors.PhaseGenerate, "module name %q is not a C identifier", opts.Module)
	}
	if err := Validate(opts.Inputs, opts.Outputs, opts.Internals); err != nil {
		return "", err
	}

	format := opts.TraceFormat
	if format == "" {
		format = TraceVCD
	}
	if format != TraceVCD && format != TraceFST {
		return "", errors.Precondition(errors.PhaseGenerate, "unknown trace format %q", format)
	}

	d := data{
		Module:           opts.Module,
		Class:            "V" + opts.Module,
		TraceFormat:      format,
		FST:              format == TraceFST,
		FlushCall:        opts.FlushCall,
		InternalsViaRoot: opts.InternalsViaRoot,
		JSON:             "nullptr",
	}
	if opts.JSON != nil {
		d.JSON = CString(opts.JSON)
		d.JSONSize = len(opts.JSON)
	}

	idx := 0
	add := func(descs []abi.Descriptor, writable bool, prefix string) []signal {
		out := make([]signal, 0, len(descs))
		for _, desc := range descs {
			s := signal{
				Name:     desc.Name,
				Width:    desc.Width,
				Index:    idx,
				Tier:     int(abi.TierOf(desc.Width)),
				Writable: writable,
				Access:   prefix + desc.Name,
			}
			out = append(out, s)
			d.All = append(d.All, s)
			idx++
		}
		return out
	}

	d.Inputs = add(opts.Inputs, true, "m->top->")
	d.Outputs = add(opts.Outputs, false, "m->top->")
	internal := "m->top->"
	if opts.InternalsViaRoot {
		internal = "m->top->rootp->"
	}
	d.Internals = add(opts.Internals, false, internal)

	var b strings.Builder
	if err := tmpl.Execute(&b, d); err != nil {
		return "", errors.Wrap(errors.PhaseGenerate, errors.KindInvalidData, err, "render glue template")
	}
	return b.String(), nil
}

func cNames(sigs []signal) string {
	if len(sigs) == 0 {
		return "nullptr"
	}
	parts := make([]string, len(sigs))
	for i, s := range sigs {
		parts[i] = strconv.Quote(s.Name)
	}
	return strings.Join(parts, ", ")
}

func cWidths(sigs []signal) string {
	if len(sigs) == 0 {
		return "0"
	}
	parts := make([]string, len(sigs))
	for i, s := range sigs {
		parts[i] = strconv.Itoa(s.Width)
	}
	return strings.Join(parts, ", ")
}

// CString renders b as a C string literal. Bytes outside printable ASCII
// use three-digit octal escapes, which cannot absorb following digits.
func CString(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) + 2)
	sb.WriteByte('"')
	for _, c := range b {
		switch {
		case c == '"' || c == '\\' || c == '?':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		default:
			sb.WriteByte('\\')
			sb.WriteByte('0' + (c>>6)&7)
			sb.WriteByte('0' + (c>>3)&7)
			sb.WriteByte('0' + c&7)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
