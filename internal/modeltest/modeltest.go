// Package modeltest provides an in-memory abi.Library for tests.
//
// A Library holds signal values per constructed model and runs a Behavior
// on every Eval. Libraries opened from the same path share their finished
// flag and the finish callback slot, as two dlopen handles of one shared
// object do: a $finish reaches the callback of the Library inside Eval when
// any Library has installed one, and clearing the slot from any of them
// restores Verilator's default handling for all.
package modeltest

import (
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/wippyai/vlsim/abi"
)

// Behavior is invoked on every Eval with the model state.
type Behavior func(s *State)

type shared struct {
	refs     int
	finished bool
	slot     bool
	exits    int
	args     []string
}

var (
	registryMu sync.Mutex
	registry   = map[string]*shared{}
)

// Library implements abi.Library in memory.
type Library struct {
	path     string
	meta     *abi.Metadata
	signals  []abi.Signal
	byName   map[string]int
	behavior Behavior
	shared   *shared
	onFinish func(abi.FinishEvent)

	models    map[abi.Model]*State
	traces    map[abi.Trace]*trace
	history   []*trace
	nextModel abi.Model
	nextTrace abi.Trace
	closed    bool

	// Evals counts Eval calls across all models.
	Evals int
	// Writes counts setter calls across all models.
	Writes int
}

// Open returns a Library for path. Opening the same path again shares
// process-global state with earlier Libraries until all are closed.
func Open(path string, meta *abi.Metadata, behavior Behavior) *Library {
	registryMu.Lock()
	sh, ok := registry[path]
	if !ok {
		sh = &shared{}
		registry[path] = sh
	}
	sh.refs++
	registryMu.Unlock()

	l := &Library{
		path:     path,
		meta:     meta,
		signals:  meta.Signals(),
		byName:   map[string]int{},
		behavior: behavior,
		shared:   sh,
		models:   map[abi.Model]*State{},
		traces:   map[abi.Trace]*trace{},
	}
	for _, s := range l.signals {
		l.byName[s.Name] = s.Index
	}
	return l
}

// State is the value store of one constructed model.
type State struct {
	lib  *Library
	vals []*big.Int
	last []*big.Int
	time uint64
}

func (s *State) index(name string) int {
	idx, ok := s.lib.byName[name]
	if !ok {
		panic(fmt.Sprintf("modeltest: unknown signal %q", name))
	}
	return idx
}

// Get returns the current value of the named signal.
func (s *State) Get(name string) *big.Int {
	return new(big.Int).Set(s.vals[s.index(name)])
}

// Uint returns the named signal as uint64.
func (s *State) Uint(name string) uint64 {
	return s.vals[s.index(name)].Uint64()
}

// Set stores v masked to the signal width.
func (s *State) Set(name string, v *big.Int) {
	idx := s.index(name)
	s.vals[idx] = abi.Mask(v, s.lib.signals[idx].Width)
}

// SetUint stores v masked to the signal width.
func (s *State) SetUint(name string, v uint64) {
	s.Set(name, new(big.Int).SetUint64(v))
}

// Rising reports a 0 to 1 transition of the named signal since the last Eval.
func (s *State) Rising(name string) bool {
	idx := s.index(name)
	return s.last[idx].Sign() == 0 && s.vals[idx].Sign() != 0
}

// Finish emulates $finish. With the callback slot installed it sets the
// shared flag and runs this Library's callback, if any. Otherwise the first
// $finish sets the flag and a second one counts as a process exit.
func (s *State) Finish(file string, line int) {
	sh := s.lib.shared
	if sh.slot {
		sh.finished = true
		if s.lib.onFinish != nil {
			s.lib.onFinish(abi.FinishEvent{File: file, Line: line, Hier: "TOP"})
		}
		return
	}
	if sh.finished {
		sh.exits++
		return
	}
	sh.finished = true
}

type trace struct {
	model   abi.Model
	file    *os.File
	depth   int
	samples []Sample
	flushes int
}

// Sample is one recorded trace point.
type Sample struct {
	Time   uint64
	Values []*big.Int
}

func (l *Library) check() error {
	if l.closed {
		return fmt.Errorf("modeltest: library %s closed", l.path)
	}
	return nil
}

func (l *Library) state(m abi.Model) (*State, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	st, ok := l.models[m]
	if !ok {
		return nil, fmt.Errorf("modeltest: unknown model %d", m)
	}
	return st, nil
}

func (l *Library) signal(idx int) (abi.Signal, error) {
	if idx < 0 || idx >= len(l.signals) {
		return abi.Signal{}, fmt.Errorf("modeltest: index %d out of range", idx)
	}
	return l.signals[idx], nil
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
	l.nextModel++
	st := &State{lib: l}
	st.vals = make([]*big.Int, len(l.signals))
	st.last = make([]*big.Int, len(l.signals))
	for i := range st.vals {
		st.vals[i] = new(big.Int)
		st.last[i] = new(big.Int)
	}
	l.models[l.nextModel] = st
	return l.nextModel, nil
}

func (l *Library) Destruct(m abi.Model) error {
	if _, err := l.state(m); err != nil {
		return err
	}
	delete(l.models, m)
	return nil
}

func (l *Library) Eval(m abi.Model) error {
	st, err := l.state(m)
	if err != nil {
		return err
	}
	l.Evals++
	if l.behavior != nil {
		l.behavior(st)
	}
	for i, v := range st.vals {
		st.last[i] = new(big.Int).Set(v)
	}
	st.time++
	return nil
}

func (l *Library) Time(m abi.Model) (uint64, error) {
	st, err := l.state(m)
	if err != nil {
		return 0, err
	}
	return st.time, nil
}

func (l *Library) get(m abi.Model, idx int, limit int) (*big.Int, error) {
	st, err := l.state(m)
	if err != nil {
		return nil, err
	}
	sig, err := l.signal(idx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && sig.Width > limit {
		return nil, fmt.Errorf("modeltest: %s is %d bits, accessor serves %d", sig.Name, sig.Width, limit)
	}
	return st.vals[idx], nil
}

func (l *Library) set(m abi.Model, idx int, v *big.Int) error {
	st, err := l.state(m)
	if err != nil {
		return err
	}
	sig, err := l.signal(idx)
	if err != nil {
		return err
	}
	if !sig.Writable() {
		return fmt.Errorf("modeltest: %s is not an input", sig.Name)
	}
	l.Writes++
	st.vals[idx] = abi.Mask(v, sig.Width)
	return nil
}

func (l *Library) Get32(m abi.Model, idx int) (uint32, error) {
	v, err := l.get(m, idx, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v.Uint64()), nil
}

func (l *Library) Get64(m abi.Model, idx int) (uint64, error) {
	v, err := l.get(m, idx, 64)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

func (l *Library) GetWord(m abi.Model, idx, word int) (uint32, error) {
	v, err := l.get(m, idx, 0)
	if err != nil {
		return 0, err
	}
	return uint32(new(big.Int).Rsh(v, uint(32*word)).Uint64()), nil
}

func (l *Library) Set32(m abi.Model, idx int, v uint32) error {
	return l.set(m, idx, new(big.Int).SetUint64(uint64(v)))
}

func (l *Library) Set64(m abi.Model, idx int, v uint64) error {
	return l.set(m, idx, new(big.Int).SetUint64(v))
}

func (l *Library) SetWord(m abi.Model, idx, word int, v uint32) error {
	cur, err := l.get(m, idx, 0)
	if err != nil {
		return err
	}
	shift := uint(32 * word)
	mask := new(big.Int).Lsh(big.NewInt(0xffffffff), shift)
	next := new(big.Int).AndNot(cur, mask)
	next.Or(next, new(big.Int).Lsh(new(big.Int).SetUint64(uint64(v)), shift))
	return l.set(m, idx, next)
}

func (l *Library) StartTrace(m abi.Model, filename string, depth int) (abi.Trace, error) {
	if _, err := l.state(m); err != nil {
		return 0, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return 0, err
	}
	fmt.Fprintf(f, "$comment modeltest %s $end\n", l.meta.Module)
	l.nextTrace++
	tr := &trace{model: m, file: f, depth: depth}
	l.traces[l.nextTrace] = tr
	l.history = append(l.history, tr)
	return l.nextTrace, nil
}

func (l *Library) trace(t abi.Trace) (*trace, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	tr, ok := l.traces[t]
	if !ok {
		return nil, fmt.Errorf("modeltest: unknown trace %d", t)
	}
	return tr, nil
}

func (l *Library) AddTrace(t abi.Trace, time uint64) error {
	tr, err := l.trace(t)
	if err != nil {
		return err
	}
	st := l.models[tr.model]
	vals := make([]*big.Int, len(st.vals))
	for i, v := range st.vals {
		vals[i] = new(big.Int).Set(v)
	}
	tr.samples = append(tr.samples, Sample{Time: time, Values: vals})
	_, err = fmt.Fprintf(tr.file, "#%d\n", time)
	return err
}

func (l *Library) FlushTrace(t abi.Trace) error {
	tr, err := l.trace(t)
	if err != nil {
		return err
	}
	tr.flushes++
	return tr.file.Sync()
}

func (l *Library) StopTrace(t abi.Trace) error {
	tr, err := l.trace(t)
	if err != nil {
		return err
	}
	delete(l.traces, t)
	return tr.file.Close()
}

// Samples returns the samples recorded by every trace ever started, in
// start order.
func (l *Library) Samples() []Sample {
	var out []Sample
	for _, tr := range l.history {
		out = append(out, tr.samples...)
	}
	return out
}

// Flushes returns the flush count of every trace ever started.
func (l *Library) Flushes() int {
	n := 0
	for _, tr := range l.history {
		n += tr.flushes
	}
	return n
}

// TraceDepth returns the depth passed to the most recent StartTrace.
func (l *Library) TraceDepth() int {
	if len(l.history) == 0 {
		return 0
	}
	return l.history[len(l.history)-1].depth
}

// OpenTraces returns the number of traces not yet stopped.
func (l *Library) OpenTraces() int {
	return len(l.traces)
}

// Models returns the number of constructed, not yet destructed models.
func (l *Library) Models() int {
	return len(l.models)
}

func (l *Library) Finished() (bool, error) {
	if err := l.check(); err != nil {
		return false, err
	}
	return l.shared.finished, nil
}

func (l *Library) SetFinished(v bool) error {
	if err := l.check(); err != nil {
		return err
	}
	l.shared.finished = v
	return nil
}

func (l *Library) SetFinishCallback(fn func(abi.FinishEvent)) error {
	if err := l.check(); err != nil {
		return err
	}
	l.onFinish = fn
	l.shared.slot = fn != nil
	return nil
}

// Exits counts the $finish calls that would have terminated the process.
func (l *Library) Exits() int {
	return l.shared.exits
}

func (l *Library) SetCommandArgs(args []string) error {
	if err := l.check(); err != nil {
		return err
	}
	l.shared.args = append([]string(nil), args...)
	return nil
}

// CommandArgs returns the arguments last passed to SetCommandArgs.
func (l *Library) CommandArgs() []string {
	return l.shared.args
}

// Closed reports whether Close has run.
func (l *Library) Closed() bool {
	return l.closed
}

func (l *Library) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.onFinish != nil {
		l.shared.slot = false
		l.onFinish = nil
	}
	for t, tr := range l.traces {
		tr.file.Close()
		delete(l.traces, t)
	}
	registryMu.Lock()
	l.shared.refs--
	if l.shared.refs == 0 {
		delete(registry, l.path)
	}
	registryMu.Unlock()
	return nil
}
