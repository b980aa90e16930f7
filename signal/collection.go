package signal

import (
	"fmt"
	"go/token"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/errors"
	"github.com/wippyai/vlsim/names"
)

// Entry is one member of a Collection. Exactly one of Handle and Sub is set.
type Entry struct {
	Key    string
	Handle *Handle
	Sub    *Collection
}

// Collection is an ordered, name-keyed container of handles and nested
// collections.
type Collection struct {
	path    names.Path
	keys    []string
	entries map[string]Entry
}

func newCollection(path names.Path) *Collection {
	return &Collection{path: path, entries: map[string]Entry{}}
}

// structural names collide with the Collection's own method set when a
// caller maps signal names onto attribute-style accessors.
var structural = map[string]bool{
	"attr": true, "get": true, "handle": true, "handles": true, "keys": true,
	"len": true, "lookup": true, "name": true, "path": true, "string": true,
	"sub": true, "walk": true,
}

// Reserved reports whether name needs the trailing "_" escape for
// attribute-style access: it is a Go keyword or a structural name.
func Reserved(name string) bool {
	return token.IsKeyword(name) || structural[strings.ToLower(name)]
}

// Path returns the collection's path relative to its root.
func (c *Collection) Path() names.Path { return c.path }

// Len returns the number of direct members.
func (c *Collection) Len() int { return len(c.keys) }

// Keys returns the direct member keys in insertion order.
func (c *Collection) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Get returns the member stored under key. This is the primary lookup
// and accepts every key, reserved words included.
func (c *Collection) Get(key string) (Entry, error) {
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, errors.NoSuchSignal(append(c.path.Clone(), key)...)
	}
	return e, nil
}

// Attr is the attribute-style lookup. A name with one trailing "_" whose
// stripped form is reserved (see Reserved) resolves to the stripped key,
// so "range_" reaches the signal "range". Exact keys always win.
func (c *Collection) Attr(name string) (Entry, error) {
	if e, ok := c.entries[name]; ok {
		return e, nil
	}
	if stripped, ok := strings.CutSuffix(name, "_"); ok && Reserved(stripped) {
		if e, ok := c.entries[stripped]; ok {
			return e, nil
		}
	}
	return Entry{}, errors.NoSuchSignal(append(c.path.Clone(), name)...)
}

// Handle returns the handle stored under key.
func (c *Collection) Handle(key string) (*Handle, error) {
	e, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	if e.Handle == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindNoSuchSignal).
			Path(append(c.path.Clone(), key)...).
			Detail("is a scope, not a signal").
			Build()
	}
	return e.Handle, nil
}

// Sub returns the nested collection stored under key.
func (c *Collection) Sub(key string) (*Collection, error) {
	e, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	if e.Sub == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindNoSuchSignal).
			Path(append(c.path.Clone(), key)...).
			Detail("is a signal, not a scope").
			Build()
	}
	return e.Sub, nil
}

// Lookup resolves a dotted path such as "u_sub.acc" to a handle. Keys
// that themselves contain dots are matched before splitting.
func (c *Collection) Lookup(dotted string) (*Handle, error) {
	if h := c.lookup(dotted); h != nil {
		return h, nil
	}
	return nil, errors.NoSuchSignal(append(c.path.Clone(), dotted)...)
}

func (c *Collection) lookup(rest string) *Handle {
	if e, ok := c.entries[rest]; ok && e.Handle != nil {
		return e.Handle
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] != '.' {
			continue
		}
		if e, ok := c.entries[rest[:i]]; ok && e.Sub != nil {
			if h := e.Sub.lookup(rest[i+1:]); h != nil {
				return h
			}
		}
	}
	return nil
}

// Walk visits every handle depth-first in insertion order and stops at the
// first error fn returns.
func (c *Collection) Walk(fn func(h *Handle) error) error {
	for _, k := range c.keys {
		e := c.entries[k]
		if e.Handle != nil {
			if err := fn(e.Handle); err != nil {
				return err
			}
			continue
		}
		if err := e.Sub.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Handles returns every handle in Walk order.
func (c *Collection) Handles() []*Handle {
	var out []*Handle
	// the visitor never fails
	_ = c.Walk(func(h *Handle) error {
		out = append(out, h)
		return nil
	})
	return out
}

// String renders one "path = value" line per handle.
func (c *Collection) String() string {
	var b strings.Builder
	for _, h := range c.Handles() {
		b.WriteString(h.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func (c *Collection) addHandle(key string, h *Handle) bool {
	if _, dup := c.entries[key]; dup {
		return false
	}
	c.keys = append(c.keys, key)
	c.entries[key] = Entry{Key: key, Handle: h}
	return true
}

// scope returns the nested collection for key, creating it on first use.
// It returns nil when key already holds a handle.
func (c *Collection) scope(key string) *Collection {
	if e, ok := c.entries[key]; ok {
		return e.Sub
	}
	sub := newCollection(append(c.path.Clone(), key))
	c.keys = append(c.keys, key)
	c.entries[key] = Entry{Key: key, Sub: sub}
	return sub
}

// NewIO builds the flat collection of inputs and outputs keyed by port name.
func NewIO(b *Binding, meta *abi.Metadata) *Collection {
	root := newCollection(nil)
	for _, s := range meta.Signals() {
		if s.Category == abi.Internal {
			continue
		}
		p := names.Path{s.Name}
		root.addHandle(s.Name, &Handle{binding: b, sig: s, key: s.Name, path: p, hier: p})
	}
	return root
}

// NewInternals builds the nested collection of internal signals keyed by
// their decoded hierarchy with the top module dropped. Names that cannot
// be decoded or that clash with an existing entry are skipped.
func NewInternals(b *Binding, meta *abi.Metadata) *Collection {
	root := newCollection(nil)
	for _, s := range meta.Signals() {
		if s.Category != abi.Internal {
			continue
		}
		hier, err := names.Decode(s.Name)
		if err != nil {
			Logger().Debug("skipping internal signal",
				zap.String("raw", s.Name),
				zap.Error(err))
			continue
		}
		if len(hier) < 2 {
			Logger().Debug("skipping internal signal outside a module scope", zap.String("raw", s.Name))
			continue
		}
		path := hier[1:]

		c := root
		for _, seg := range path[:len(path)-1] {
			if c = c.scope(seg); c == nil {
				break
			}
		}
		h := &Handle{binding: b, sig: s, key: path.Leaf(), path: path, hier: hier}
		if c == nil || !c.addHandle(path.Leaf(), h) {
			Logger().Debug("skipping internal signal with clashing path",
				zap.String("raw", s.Name),
				zap.String("path", path.Dotted()))
		}
	}
	return root
}

// Describe returns a one-line summary of an entry, used by tables.
func (e Entry) Describe() string {
	if e.Handle != nil {
		return fmt.Sprintf("%s [%d] %s", e.Key, e.Handle.Width(), e.Handle.Category())
	}
	return fmt.Sprintf("%s/ (%d)", e.Key, e.Sub.Len())
}
