package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseConfig   Phase = "config"   // project file loading
	PhaseDecode   Phase = "decode"   // escaped name decoding
	PhaseGenerate Phase = "generate" // glue source generation
	PhaseBuild    Phase = "build"    // verilator and make invocation
	PhaseLoad     Phase = "load"     // artifact loading
	PhaseRuntime  Phase = "runtime"  // signal access and eval
	PhaseTrace    Phase = "trace"    // waveform recording
	PhaseViewer   Phase = "viewer"   // waveform viewer channel
)

// Kind categorizes the error
type Kind string

const (
	KindPrecondition     Kind = "precondition"
	KindToolNotFound     Kind = "tool_not_found"
	KindBuildFailed      Kind = "build_failed"
	KindUnsupportedName  Kind = "unsupported_name"
	KindNoSuchSignal     Kind = "no_such_signal"
	KindNotWritable      Kind = "not_writable"
	KindProtocolMismatch Kind = "protocol_mismatch"
	KindStateMisuse      Kind = "state_misuse"
	KindInvalidData      Kind = "invalid_data"
	KindNotInitialized   Kind = "not_initialized"
	KindUnsupported      Kind = "unsupported"
)

// Error is the structured error type used throughout vlsim
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Command string
	Detail  string
	Path    []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Command != "" {
		b.WriteString(": command ")
		b.WriteString(e.Command)
	}

	if e.Detail != "" {
		if e.Command != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// HasKind reports whether any *Error in err's chain has the given kind,
// regardless of phase.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the signal path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Command sets the external command line
func (b *Builder) Command(cmd string) *Builder {
	b.err.Command = cmd
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Precondition creates an error for rejected input arguments
func Precondition(phase Phase, detail string, args ...any) *Error {
	return New(phase, KindPrecondition).Detail(detail, args...).Build()
}

// ToolNotFound creates an error for an external program missing from PATH
func ToolNotFound(phase Phase, tool string, cause error) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindToolNotFound,
		Command: tool,
		Detail:  "not found in PATH",
		Cause:   cause,
	}
}

// BuildFailed creates an error for an external build step that exited non-zero
func BuildFailed(command string, output string, cause error) *Error {
	detail := strings.TrimSpace(output)
	if len(detail) > 2048 {
		detail = "..." + detail[len(detail)-2048:]
	}
	return &Error{
		Phase:   PhaseBuild,
		Kind:    KindBuildFailed,
		Command: command,
		Detail:  detail,
		Cause:   cause,
	}
}

// UnsupportedName creates an error for a raw name with unsupported constructs
func UnsupportedName(raw string, construct string) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindUnsupportedName,
		Value:  raw,
		Detail: fmt.Sprintf("%q contains %s", raw, construct),
	}
}

// NoSuchSignal creates an error for an unknown signal name
func NoSuchSignal(path ...string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindNoSuchSignal,
		Path:   path,
		Detail: "no such signal",
	}
}

// NotWritable creates an error for a write to a non-input signal
func NotWritable(name string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindNotWritable,
		Path:   []string{name},
		Detail: "only input signals can be written",
	}
}

// ProtocolMismatch creates an error for a viewer reply that did not match expectations
func ProtocolMismatch(detail string, args ...any) *Error {
	return New(PhaseViewer, KindProtocolMismatch).Detail(detail, args...).Build()
}

// StateMisuse creates an error for an operation invalid in the current state
func StateMisuse(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStateMisuse,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// NotInitialized creates a not-initialized error for a missing model or channel
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates an artifact loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}
