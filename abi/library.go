package abi

// Model is an opaque handle to a constructed model instance inside a Library.
type Model uintptr

// Trace is an opaque handle to an open waveform dump.
type Trace uintptr

// FinishEvent describes a $finish executed by the design.
type FinishEvent struct {
	File string
	Line int
	Hier string
}

// Library is a loaded artifact: compiled model plus glue.
//
// Accessor index values follow Metadata.Signals. Get32/Set32 serve signals
// up to 32 bits, Get64/Set64 up to 64 bits and GetWord/SetWord address the
// 32-bit words of wider signals, least significant word first.
//
// Artifacts opened twice from the same file may share process-global state
// such as the finished flag. Callers wanting isolation must build distinct
// artifacts.
type Library interface {
	Path() string
	Metadata() (*Metadata, error)

	Construct() (Model, error)
	Destruct(m Model) error
	Eval(m Model) error
	Time(m Model) (uint64, error)

	Get32(m Model, idx int) (uint32, error)
	Get64(m Model, idx int) (uint64, error)
	GetWord(m Model, idx, word int) (uint32, error)
	Set32(m Model, idx int, v uint32) error
	Set64(m Model, idx int, v uint64) error
	SetWord(m Model, idx, word int, v uint32) error

	StartTrace(m Model, filename string, depth int) (Trace, error)
	AddTrace(t Trace, time uint64) error
	FlushTrace(t Trace) error
	StopTrace(t Trace) error

	Finished() (bool, error)
	SetFinished(v bool) error
	SetFinishCallback(fn func(FinishEvent)) error
	SetCommandArgs(args []string) error

	Close() error
}
