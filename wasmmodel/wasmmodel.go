package wasmmodel

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
)

// HostModule is the import module the glue calls for $finish.
const HostModule = "vlsim"

var _ abi.Library = (*Library)(nil)

// Library is a WASI artifact instantiated in a private wazero runtime.
type Library struct {
	path    string
	ctx     context.Context
	runtime wazero.Runtime
	mod     api.Module
	mem     api.Memory
	fn      funcs
	meta    *abi.Metadata

	onFinish func(abi.FinishEvent)
	closed   bool
}

type funcs struct {
	construct, destruct, eval, time                      api.Function
	get32, get64, getw, set32, set64, setw               api.Function
	startTrace, addTrace, flushTrace, stopTrace          api.Function
	getFinished, setFinished, setCommandArgs, hostFinish api.Function
	malloc, free                                         api.Function

	metaModule, metaJSON, metaJSONSize, metaTraceFormat api.Function
	metaCount, metaName, metaWidth                      api.Function
}

func (f *funcs) bindings() map[string]*api.Function {
	return map[string]*api.Function{
		"construct":                &f.construct,
		"destruct":                 &f.destruct,
		"eval":                     &f.eval,
		"vlsim_time":               &f.time,
		"vlsim_get32":              &f.get32,
		"vlsim_get64":              &f.get64,
		"vlsim_getw":               &f.getw,
		"vlsim_set32":              &f.set32,
		"vlsim_set64":              &f.set64,
		"vlsim_setw":               &f.setw,
		"start_vcd_trace_depth":    &f.startTrace,
		"add_to_vcd_trace":         &f.addTrace,
		"flush_vcd_trace":          &f.flushTrace,
		"stop_vcd_trace":           &f.stopTrace,
		"get_finished":             &f.getFinished,
		"set_finished":             &f.setFinished,
		"set_command_args":         &f.setCommandArgs,
		"vlsim_enable_host_finish": &f.hostFinish,
		"malloc":                   &f.malloc,
		"free":                     &f.free,
		"vlsim_meta_module":        &f.metaModule,
		"vlsim_meta_json":          &f.metaJSON,
		"vlsim_meta_json_size":     &f.metaJSONSize,
		"vlsim_meta_trace_format":  &f.metaTraceFormat,
		"vlsim_meta_count":         &f.metaCount,
		"vlsim_meta_name":          &f.metaName,
		"vlsim_meta_width":         &f.metaWidth,
	}
}

type options struct {
	stdout   io.Writer
	stderr   io.Writer
	hostDir  string
	guestDir string
	cacheDir string
}

// Option configures Open.
type Option func(*options)

// WithOutput routes the guest's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithDirMount exposes hostDir to the guest at guestDir. The default
// mounts the host root at "/" so absolute trace paths resolve unchanged.
func WithDirMount(hostDir, guestDir string) Option {
	return func(o *options) {
		o.hostDir = hostDir
		o.guestDir = guestDir
	}
}

// WithCompilationCache keeps compiled code in dir across runs.
func WithCompilationCache(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

// Open compiles and instantiates the artifact at path. ctx is retained
// for every later call into the guest.
func Open(ctx context.Context, path string, opts ...Option) (*Library, error) {
	o := options{stdout: os.Stdout, stderr: os.Stderr, hostDir: "/", guestDir: "/"}
	for _, opt := range opts {
		opt(&o)
	}

	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(path).
			Cause(err).
			Detail("read artifact").
			Build()
	}

	cfg := wazero.NewRuntimeConfig()
	if o.cacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(o.cacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindPrecondition, err, "compilation cache")
		}
		cfg = cfg.WithCompilationCache(cache)
	}

	l := &Library{path: path, ctx: ctx, runtime: wazero.NewRuntimeWithConfig(ctx, cfg)}
	if err := l.instantiate(wasmBytes, o); err != nil {
		l.runtime.Close(ctx)
		return nil, err
	}
	meta, err := l.readMetadata()
	if err != nil {
		l.runtime.Close(ctx)
		return nil, err
	}
	l.meta = meta

	Logger().Debug("artifact instantiated",
		zap.String("path", path),
		zap.String("module", meta.Module),
		zap.Uint32("memory_pages", l.mem.Size()/65536))
	return l, nil
}

func (l *Library) instantiate(wasmBytes []byte, o options) error {
	ctx := l.ctx
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, l.runtime); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "instantiate WASI")
	}

	_, err := l.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(l.hostFinish),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("finish").
		Instantiate(ctx)
	if err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "instantiate host module")
	}

	compiled, err := l.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(l.path).
			Cause(err).
			Detail("compile").
			Build()
	}
	if _, ok := compiled.ExportedFunctions()["vlsim_meta_module"]; !ok {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(l.path).
			Detail("not a vlsim artifact").
			Build()
	}

	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize").
		WithStdout(o.stdout).
		WithStderr(o.stderr).
		WithFSConfig(wazero.NewFSConfig().WithDirMount(o.hostDir, o.guestDir))
	mod, err := l.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(l.path).
			Cause(err).
			Detail("instantiate").
			Build()
	}
	l.mod = mod

	if l.mem = mod.Memory(); l.mem == nil {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(l.path).
			Detail("artifact exports no memory").
			Build()
	}
	for name, dst := range l.fn.bindings() {
		f := mod.ExportedFunction(name)
		if f == nil {
			return errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Path(l.path).
				Detail("missing export %s", name).
				Build()
		}
		*dst = f
	}
	return nil
}

func (l *Library) readMetadata() (*abi.Metadata, error) {
	meta := &abi.Metadata{}
	var err error
	if meta.Module, err = l.callString("vlsim_meta_module", l.fn.metaModule); err != nil {
		return nil, err
	}
	if meta.TraceFormat, err = l.callString("vlsim_meta_trace_format", l.fn.metaTraceFormat); err != nil {
		return nil, err
	}
	for cat, dst := range []*[]abi.Descriptor{&meta.Inputs, &meta.Outputs, &meta.Internals} {
		n, err := l.call("vlsim_meta_count", l.fn.metaCount, api.EncodeI32(int32(cat)))
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < api.DecodeU32(n); i++ {
			name, err := l.callString("vlsim_meta_name", l.fn.metaName, api.EncodeI32(int32(cat)), api.EncodeU32(i))
			if err != nil {
				return nil, err
			}
			w, err := l.call("vlsim_meta_width", l.fn.metaWidth, api.EncodeI32(int32(cat)), api.EncodeU32(i))
			if err != nil {
				return nil, err
			}
			*dst = append(*dst, abi.Descriptor{Name: name, Width: int(api.DecodeU32(w))})
		}
	}

	p, err := l.call("vlsim_meta_json", l.fn.metaJSON)
	if err != nil {
		return nil, err
	}
	if ptr := api.DecodeU32(p); ptr != 0 {
		n, err := l.call("vlsim_meta_json_size", l.fn.metaJSONSize)
		if err != nil {
			return nil, err
		}
		buf, ok := l.mem.Read(ptr, api.DecodeU32(n))
		if !ok {
			return nil, errors.Load("json payload out of bounds", nil)
		}
		meta.JSON = append([]byte{}, buf...)
	}

	if err := meta.Validate(); err != nil {
		return nil, errors.Load("artifact metadata", err)
	}
	return meta, nil
}

// call invokes fn and returns its first result, or 0 for void functions.
func (l *Library) call(name string, fn api.Function, params ...uint64) (uint64, error) {
	res, err := fn.Call(l.ctx, params...)
	if err != nil {
		var exit *sys.ExitError
		if stderrors.As(err, &exit) {
			return 0, errors.New(errors.PhaseRuntime, errors.KindStateMisuse).
				Command(name).
				Value(exit.ExitCode()).
				Cause(err).
				Detail("guest exited with code %d", exit.ExitCode()).
				Build()
		}
		return 0, errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Command(name).
			Cause(err).
			Detail("guest call failed").
			Build()
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

func (l *Library) callString(name string, fn api.Function, params ...uint64) (string, error) {
	p, err := l.call(name, fn, params...)
	if err != nil {
		return "", err
	}
	s, ok := readCString(l.mem, api.DecodeU32(p))
	if !ok {
		return "", errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Command(name).
			Detail("string out of bounds").
			Build()
	}
	return s, nil
}

// readCString copies the NUL-terminated string at ptr. A null pointer
// reads as "".
func readCString(mem api.Memory, ptr uint32) (string, bool) {
	if ptr == 0 {
		return "", true
	}
	var buf []byte
	for off := ptr; ; off++ {
		b, ok := mem.ReadByte(off)
		if !ok {
			return "", false
		}
		if b == 0 {
			return string(buf), true
		}
		buf = append(buf, b)
	}
}

// allocString copies s into guest memory with a NUL terminator. The
// caller frees the returned pointer.
func (l *Library) allocString(s string) (uint32, error) {
	p, err := l.call("malloc", l.fn.malloc, api.EncodeU32(uint32(len(s)+1)))
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(p)
	if ptr == 0 {
		return 0, errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Command("malloc").
			Detail("guest out of memory").
			Build()
	}
	if !l.mem.Write(ptr, append([]byte(s), 0)) {
		l.freePtr(ptr)
		return 0, errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Command("malloc").
			Detail("allocation out of bounds").
			Build()
	}
	return ptr, nil
}

func (l *Library) freePtr(ptr uint32) {
	if _, err := l.call("free", l.fn.free, api.EncodeU32(ptr)); err != nil {
		Logger().Warn("guest free failed", zap.Error(err))
	}
}

func (l *Library) hostFinish(ctx context.Context, m api.Module, stack []uint64) {
	mem := m.Memory()
	file, _ := readCString(mem, api.DecodeU32(stack[0]))
	hier, _ := readCString(mem, api.DecodeU32(stack[2]))
	ev := abi.FinishEvent{File: file, Line: int(api.DecodeI32(stack[1])), Hier: hier}
	if l.onFinish == nil {
		Logger().Warn("$finish without callback", zap.String("file", ev.File), zap.Int("line", ev.Line))
		return
	}
	l.onFinish(ev)
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
	m, err := l.call("construct", l.fn.construct)
	if err != nil {
		return 0, err
	}
	if api.DecodeU32(m) == 0 {
		return 0, errors.Load("construct returned null", nil)
	}
	return abi.Model(api.DecodeU32(m)), nil
}

func (l *Library) Destruct(m abi.Model) error {
	if err := l.check(); err != nil {
		return err
	}
	_, err := l.call("destruct", l.fn.destruct, modelArg(m))
	return err
}

func (l *Library) Eval(m abi.Model) error {
	if err := l.check(); err != nil {
		return err
	}
	_, err := l.call("eval", l.fn.eval, modelArg(m))
	return err
}

func (l *Library) Time(m abi.Model) (uint64, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	return l.call("vlsim_time", l.fn.time, modelArg(m))
}

func (l *Library) Get32(m abi.Model, idx int) (uint32, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	v, err := l.call("vlsim_get32", l.fn.get32, modelArg(m), api.EncodeI32(int32(idx)))
	return api.DecodeU32(v), err
}

func (l *Library) Get64(m abi.Model, idx int) (uint64, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	return l.call("vlsim_get64", l.fn.get64, modelArg(m), api.EncodeI32(int32(idx)))
}

func (l *Library) GetWord(m abi.Model, idx, word int) (uint32, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	v, err := l.call("vlsim_getw", l.fn.getw, modelArg(m), api.EncodeI32(int32(idx)), api.EncodeI32(int32(word)))
	return api.DecodeU32(v), err
}

func (l *Library) setResult(idx int, rc uint64, err error) error {
	if err != nil {
		return err
	}
	if api.DecodeI32(rc) != 0 {
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
	rc, err := l.call("vlsim_set32", l.fn.set32, modelArg(m), api.EncodeI32(int32(idx)), api.EncodeU32(v))
	return l.setResult(idx, rc, err)
}

func (l *Library) Set64(m abi.Model, idx int, v uint64) error {
	if err := l.check(); err != nil {
		return err
	}
	rc, err := l.call("vlsim_set64", l.fn.set64, modelArg(m), api.EncodeI32(int32(idx)), v)
	return l.setResult(idx, rc, err)
}

func (l *Library) SetWord(m abi.Model, idx, word int, v uint32) error {
	if err := l.check(); err != nil {
		return err
	}
	rc, err := l.call("vlsim_setw", l.fn.setw, modelArg(m), api.EncodeI32(int32(idx)), api.EncodeI32(int32(word)), api.EncodeU32(v))
	return l.setResult(idx, rc, err)
}

// StartTrace opens filename inside the guest. Relative names are made
// absolute against the host working directory first.
func (l *Library) StartTrace(m abi.Model, filename string, depth int) (abi.Trace, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseTrace, errors.KindPrecondition, err, "trace path")
	}
	name, err := l.allocString(abs)
	if err != nil {
		return 0, err
	}
	defer l.freePtr(name)

	t, err := l.call("start_vcd_trace_depth", l.fn.startTrace, modelArg(m), api.EncodeU32(name), api.EncodeI32(int32(depth)))
	if err != nil {
		return 0, err
	}
	if api.DecodeU32(t) == 0 {
		return 0, errors.InvalidData(errors.PhaseTrace, []string{filename}, "start trace returned null")
	}
	return abi.Trace(api.DecodeU32(t)), nil
}

func (l *Library) AddTrace(t abi.Trace, time uint64) error {
	if err := l.check(); err != nil {
		return err
	}
	_, err := l.call("add_to_vcd_trace", l.fn.addTrace, traceArg(t), time)
	return err
}

func (l *Library) FlushTrace(t abi.Trace) error {
	if err := l.check(); err != nil {
		return err
	}
	_, err := l.call("flush_vcd_trace", l.fn.flushTrace, traceArg(t))
	return err
}

func (l *Library) StopTrace(t abi.Trace) error {
	if err := l.check(); err != nil {
		return err
	}
	_, err := l.call("stop_vcd_trace", l.fn.stopTrace, traceArg(t))
	return err
}

func (l *Library) Finished() (bool, error) {
	if err := l.check(); err != nil {
		return false, err
	}
	v, err := l.call("get_finished", l.fn.getFinished)
	return api.DecodeU32(v) != 0, err
}

func (l *Library) SetFinished(v bool) error {
	if err := l.check(); err != nil {
		return err
	}
	_, err := l.call("set_finished", l.fn.setFinished, boolArg(v))
	return err
}

// SetFinishCallback routes $finish to fn through the host import. A nil
// fn restores Verilator's default handling.
func (l *Library) SetFinishCallback(fn func(abi.FinishEvent)) error {
	if err := l.check(); err != nil {
		return err
	}
	l.onFinish = fn
	_, err := l.call("vlsim_enable_host_finish", l.fn.hostFinish, boolArg(fn != nil))
	return err
}

func (l *Library) SetCommandArgs(args []string) error {
	if err := l.check(); err != nil {
		return err
	}
	all := append([]string{"vlsim"}, args...)
	ptrs := make([]uint32, 0, len(all))
	defer func() {
		for _, p := range ptrs {
			l.freePtr(p)
		}
	}()
	for _, a := range all {
		p, err := l.allocString(a)
		if err != nil {
			return err
		}
		ptrs = append(ptrs, p)
	}

	argv, err := l.call("malloc", l.fn.malloc, api.EncodeU32(uint32(4*(len(ptrs)+1))))
	if err != nil {
		return err
	}
	base := api.DecodeU32(argv)
	ptrs = append(ptrs, base)
	for i, p := range ptrs[:len(all)] {
		l.mem.WriteUint32Le(base+uint32(4*i), p)
	}
	l.mem.WriteUint32Le(base+uint32(4*len(all)), 0)

	_, err = l.call("set_command_args", l.fn.setCommandArgs, api.EncodeI32(int32(len(all))), api.EncodeU32(base))
	return err
}

// Close releases the runtime and everything instantiated in it.
func (l *Library) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.onFinish = nil
	if err := l.runtime.Close(l.ctx); err != nil {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(l.path).
			Cause(err).
			Detail("close runtime").
			Build()
	}
	return nil
}

func modelArg(m abi.Model) uint64 { return api.EncodeU32(uint32(m)) }

func traceArg(t abi.Trace) uint64 { return api.EncodeU32(uint32(t)) }

func boolArg(v bool) uint64 {
	if v {
		return api.EncodeI32(1)
	}
	return api.EncodeI32(0)
}
