//go:build darwin || freebsd || linux

package native

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
)

var _ abi.Library = (*Library)(nil)

// Library is an artifact opened with dlopen.
type Library struct {
	path   string
	handle uintptr
	fn     funcs
	meta   *abi.Metadata

	onFinish func(abi.FinishEvent)
	closed   bool
}

type funcs struct {
	construct      func() uintptr
	destruct       func(m uintptr) int32
	eval           func(m uintptr) int32
	time           func(m uintptr) uint64
	get32          func(m uintptr, idx int32) uint32
	get64          func(m uintptr, idx int32) uint64
	getw           func(m uintptr, idx, word int32) uint32
	set32          func(m uintptr, idx int32, v uint32) int32
	set64          func(m uintptr, idx int32, v uint64) int32
	setw           func(m uintptr, idx, word int32, v uint32) int32
	startTrace     func(m uintptr, filename string, depth int32) uintptr
	addTrace       func(t uintptr, time uint64) int32
	flushTrace     func(t uintptr) int32
	stopTrace      func(t uintptr) int32
	getFinished    func() bool
	setFinished    func(v bool)
	setFinishCB    func(cb uintptr)
	setCommandArgs func(argc int32, argv unsafe.Pointer)

	metaModule      func() string
	metaJSON        func() uintptr
	metaJSONSize    func() uint32
	metaTraceFormat func() string
	metaCount       func(cat int32) uint32
	metaName        func(cat, i int32) string
	metaWidth       func(cat, i int32) uint32
}

func (f *funcs) bindings() []struct {
	name string
	fptr any
} {
	return []struct {
		name string
		fptr any
	}{
		{"construct", &f.construct},
		{"destruct", &f.destruct},
		{"eval", &f.eval},
		{"vlsim_time", &f.time},
		{"vlsim_get32", &f.get32},
		{"vlsim_get64", &f.get64},
		{"vlsim_getw", &f.getw},
		{"vlsim_set32", &f.set32},
		{"vlsim_set64", &f.set64},
		{"vlsim_setw", &f.setw},
		{"start_vcd_trace_depth", &f.startTrace},
		{"add_to_vcd_trace", &f.addTrace},
		{"flush_vcd_trace", &f.flushTrace},
		{"stop_vcd_trace", &f.stopTrace},
		{"get_finished", &f.getFinished},
		{"set_finished", &f.setFinished},
		{"set_vl_finish_callback", &f.setFinishCB},
		{"set_command_args", &f.setCommandArgs},
		{"vlsim_meta_module", &f.metaModule},
		{"vlsim_meta_json", &f.metaJSON},
		{"vlsim_meta_json_size", &f.metaJSONSize},
		{"vlsim_meta_trace_format", &f.metaTraceFormat},
		{"vlsim_meta_count", &f.metaCount},
		{"vlsim_meta_name", &f.metaName},
		{"vlsim_meta_width", &f.metaWidth},
	}
}

// Open loads the artifact at path and binds its entry points. The
// metadata block is read immediately.
//
// dlopen reference-counts handles: opening one path twice yields the same
// image, so both Libraries share its globals.
func Open(path string) (*Library, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(path).
			Cause(err).
			Detail("dlopen").
			Build()
	}

	l := &Library{path: path, handle: h}
	if err := l.bind(); err != nil {
		purego.Dlclose(h)
		return nil, err
	}
	meta, err := l.readMetadata()
	if err != nil {
		purego.Dlclose(h)
		return nil, err
	}
	l.meta = meta

	Logger().Debug("artifact opened",
		zap.String("path", path),
		zap.String("module", meta.Module))
	return l, nil
}

func (l *Library) bind() error {
	if _, err := purego.Dlsym(l.handle, "_vlsim_module_name"); err != nil {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(l.path).
			Cause(err).
			Detail("not a vlsim artifact").
			Build()
	}
	for _, b := range l.fn.bindings() {
		sym, err := purego.Dlsym(l.handle, b.name)
		if err != nil {
			return errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Path(l.path).
				Cause(err).
				Detail("missing entry point %s", b.name).
				Build()
		}
		purego.RegisterFunc(b.fptr, sym)
	}
	return nil
}

func (l *Library) readMetadata() (*abi.Metadata, error) {
	meta := &abi.Metadata{
		Module:      l.fn.metaModule(),
		TraceFormat: l.fn.metaTraceFormat(),
	}
	for cat, dst := range []*[]abi.Descriptor{&meta.Inputs, &meta.Outputs, &meta.Internals} {
		n := int32(l.fn.metaCount(int32(cat)))
		for i := int32(0); i < n; i++ {
			*dst = append(*dst, abi.Descriptor{
				Name:  l.fn.metaName(int32(cat), i),
				Width: int(l.fn.metaWidth(int32(cat), i)),
			})
		}
	}
	if p := l.fn.metaJSON(); p != 0 {
		n := l.fn.metaJSONSize()
		meta.JSON = append([]byte{}, unsafe.Slice((*byte)(unsafe.Pointer(p)), n)...)
	}
	if err := meta.Validate(); err != nil {
		return nil, errors.Load("artifact metadata", err)
	}
	return meta, nil
}

func (l *Library) check() error {
	if l.closed {
		return errors.NotInitialized(errors.PhaseRuntime, "library "+l.path)
	}
	return nil
}

func (l *Library) Path() string { return l.path }

func (l *Library) Metadata() (*abi.Metadata, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	return l.meta, nil
}

func (l *Library) Construct() (abi.Model, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	m := l.fn.construct()
	if m == 0 {
		return 0, errors.Load("construct returned null", nil)
	}
	return abi.Model(m), nil
}

func (l *Library) Destruct(m abi.Model) error {
	if err := l.check(); err != nil {
		return err
	}
	l.fn.destruct(uintptr(m))
	return nil
}

func (l *Library) Eval(m abi.Model) error {
	if err := l.check(); err != nil {
		return err
	}
	evalMu.Lock()
	evaluating = l
	l.fn.eval(uintptr(m))
	evaluating = nil
	evalMu.Unlock()
	return nil
}

func (l *Library) Time(m abi.Model) (uint64, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	return l.fn.time(uintptr(m)), nil
}

func (l *Library) Get32(m abi.Model, idx int) (uint32, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	return l.fn.get32(uintptr(m), int32(idx)), nil
}

func (l *Library) Get64(m abi.Model, idx int) (uint64, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	return l.fn.get64(uintptr(m), int32(idx)), nil
}

func (l *Library) GetWord(m abi.Model, idx, word int) (uint32, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	return l.fn.getw(uintptr(m), int32(idx), int32(word)), nil
}

func (l *Library) setResult(idx int, rc int32) error {
	if rc != 0 {
		return errors.New(errors.PhaseRuntime, errors.KindNotWritable).
			Value(idx).
			Detail("artifact rejected write to index %d", idx).
			Build()
	}
	return nil
}

func (l *Library) Set32(m abi.Model, idx int, v uint32) error {
	if err := l.check(); err != nil {
		return err
	}
	return l.setResult(idx, l.fn.set32(uintptr(m), int32(idx), v))
}

func (l *Library) Set64(m abi.Model, idx int, v uint64) error {
	if err := l.check(); err != nil {
		return err
	}
	return l.setResult(idx, l.fn.set64(uintptr(m), int32(idx), v))
}

func (l *Library) SetWord(m abi.Model, idx, word int, v uint32) error {
	if err := l.check(); err != nil {
		return err
	}
	return l.setResult(idx, l.fn.setw(uintptr(m), int32(idx), int32(word), v))
}

func (l *Library) StartTrace(m abi.Model, filename string, depth int) (abi.Trace, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	t := l.fn.startTrace(uintptr(m), filename, int32(depth))
	if t == 0 {
		return 0, errors.InvalidData(errors.PhaseTrace, []string{filename}, "start trace returned null")
	}
	return abi.Trace(t), nil
}

func (l *Library) AddTrace(t abi.Trace, time uint64) error {
	if err := l.check(); err != nil {
		return err
	}
	l.fn.addTrace(uintptr(t), time)
	return nil
}

func (l *Library) FlushTrace(t abi.Trace) error {
	if err := l.check(); err != nil {
		return err
	}
	l.fn.flushTrace(uintptr(t))
	return nil
}

func (l *Library) StopTrace(t abi.Trace) error {
	if err := l.check(); err != nil {
		return err
	}
	l.fn.stopTrace(uintptr(t))
	return nil
}

func (l *Library) Finished() (bool, error) {
	if err := l.check(); err != nil {
		return false, err
	}
	return l.fn.getFinished(), nil
}

func (l *Library) SetFinished(v bool) error {
	if err := l.check(); err != nil {
		return err
	}
	l.fn.setFinished(v)
	return nil
}

// SetFinishCallback routes $finish to fn. A nil fn restores Verilator's
// default handling.
func (l *Library) SetFinishCallback(fn func(abi.FinishEvent)) error {
	if err := l.check(); err != nil {
		return err
	}
	l.onFinish = fn
	if fn == nil {
		l.fn.setFinishCB(0)
		return nil
	}
	l.fn.setFinishCB(finishTrampoline())
	return nil
}

func (l *Library) SetCommandArgs(args []string) error {
	if err := l.check(); err != nil {
		return err
	}
	all := append([]string{"vlsim"}, args...)
	bufs := make([][]byte, len(all))
	argv := make([]*byte, len(all)+1)
	for i, a := range all {
		bufs[i] = append([]byte(a), 0)
		argv[i] = &bufs[i][0]
	}
	l.fn.setCommandArgs(int32(len(all)), unsafe.Pointer(&argv[0]))
	runtime.KeepAlive(bufs)
	runtime.KeepAlive(argv)
	return nil
}

func (l *Library) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.onFinish != nil {
		l.fn.setFinishCB(0)
		l.onFinish = nil
	}
	if err := purego.Dlclose(l.handle); err != nil {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(l.path).
			Cause(err).
			Detail("dlclose").
			Build()
	}
	return nil
}

// A C callback slot cannot be released once created, so one trampoline
// serves every library and dispatches to the library inside Eval.
var (
	evalMu     sync.Mutex
	evaluating *Library

	trampolineOnce sync.Once
	trampoline     uintptr
)

func finishTrampoline() uintptr {
	trampolineOnce.Do(func() {
		trampoline = purego.NewCallback(func(file, line, hier uintptr) {
			l := evaluating
			if l == nil || l.onFinish == nil {
				Logger().Warn("$finish outside eval", zap.String("file", goString(file)))
				return
			}
			l.onFinish(abi.FinishEvent{
				File: goString(file),
				Line: int(int32(line)),
				Hier: goString(hier),
			})
		})
	})
	return trampoline
}

// goString copies a NUL-terminated C string.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	ptr := (*byte)(unsafe.Pointer(p))
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(ptr), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(ptr, n))
}
