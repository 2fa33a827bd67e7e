package genicam

import (
	"fmt"
	"sync"
)

type entry struct {
	Node
	vals map[string]interface{} // keyed by selector value, "" when unselected
}

// NodeMap holds a device's features.  It is concurrent safe.
type NodeMap struct {
	mu      sync.RWMutex
	nodes   map[string]*entry
	order   []string
	subs    map[string]map[int]func(string)
	nextSub int
	dead    error // set by Invalidate
}

// NewNodeMap returns an empty node map
func NewNodeMap() *NodeMap {
	return &NodeMap{
		nodes: make(map[string]*entry),
		subs:  make(map[string]map[int]func(string)),
	}
}

// Add inserts nodes.  Names must be unique and initial values must suit the
// node's kind.  A node's Selector may name a node added later.
func (m *NodeMap) Add(nodes ...Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range nodes {
		if n.Name == "" {
			return fmt.Errorf("node with kind %v has no name", n.Kind)
		}
		if _, exists := m.nodes[n.Name]; exists {
			return fmt.Errorf("node %s already exists", n.Name)
		}
		if n.Kind == KindCommand || n.Kind == KindCategory {
			n.Value = nil
		} else if n.Value == nil {
			n.Value = zero(n.Kind)
			if n.Kind == KindInteger {
				n.Value = n.Min
			} else if n.Kind == KindFloat {
				n.Value = n.FMin
			} else if n.Kind == KindEnumeration && len(n.Entries) > 0 {
				n.Value = n.Entries[0]
			}
		} else {
			v, ok := normalize(n.Kind, n.Value)
			if !ok {
				return fmt.Errorf("node %s: initial value %v (%T) does not suit kind %v", n.Name, n.Value, n.Value, n.Kind)
			}
			n.Value = v
		}
		n.Entries = append([]string(nil), n.Entries...)
		n.Children = append([]string(nil), n.Children...)
		m.nodes[n.Name] = &entry{Node: n, vals: make(map[string]interface{})}
		m.order = append(m.order, n.Name)
	}
	return nil
}

// MustAdd is Add that panics on error, for static node tables
func (m *NodeMap) MustAdd(nodes ...Node) {
	if err := m.Add(nodes...); err != nil {
		panic(err)
	}
}

// Has reports whether the map holds a feature by this name
func (m *NodeMap) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nodes[name]
	return ok
}

// Names returns every feature name in the order the nodes were added
func (m *NodeMap) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Kind returns the kind of a feature
func (m *NodeMap) Kind(name string) (Kind, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.lookup(name, "kind", 0)
	if err != nil {
		return 0, err
	}
	return n.Kind, nil
}

// Access returns the current access mode of a feature, NA if it does not exist
func (m *NodeMap) Access(name string) Access {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[name]
	if !ok || m.dead != nil {
		return NA
	}
	return n.Node.Access
}

// Info returns a copy of a node's current definition, with Value holding
// the current value when the node is readable.  The hooks are omitted.
func (m *NodeMap) Info(name string) (Node, error) {
	m.mu.RLock()
	n, err := m.lookup(name, "info", 0)
	if err != nil {
		m.mu.RUnlock()
		return Node{}, err
	}
	out := n.Node
	out.Entries = append([]string(nil), n.Entries...)
	out.Children = append([]string(nil), n.Children...)
	out.Get, out.OnWrite, out.OnExecute = nil, nil, nil
	getter := n.Get
	out.Value = nil
	if n.Node.Access.Readable() && n.Kind != KindCommand && n.Kind != KindCategory {
		out.Value = m.valueLocked(n)
	}
	m.mu.RUnlock()
	if getter != nil && out.Value != nil {
		out.Value = getter()
	}
	return out, nil
}

// Selected returns the names of the nodes whose Selector is the given feature
func (m *NodeMap) Selected(selector string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, name := range m.order {
		if m.nodes[name].Selector == selector {
			out = append(out, name)
		}
	}
	return out
}

// Subscribe registers fn to be called with the feature name after each
// change of its value or access mode.  The returned function cancels.
func (m *NodeMap) Subscribe(name string, fn func(name string)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	if m.subs[name] == nil {
		m.subs[name] = make(map[int]func(string))
	}
	m.subs[name][id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs[name], id)
		m.mu.Unlock()
	}
}

func (m *NodeMap) notify(name string) {
	m.mu.RLock()
	fns := make([]func(string), 0, len(m.subs[name]))
	for _, fn := range m.subs[name] {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		fn(name)
	}
}

// selectorKeyLocked is the current value of n's selector.  m.mu must be held.
func (m *NodeMap) selectorKeyLocked(n *entry) string {
	if n.Selector == "" {
		return ""
	}
	s, ok := m.nodes[n.Selector]
	if !ok {
		return ""
	}
	return fmt.Sprint(m.valueLocked(s))
}

// valueLocked returns the stored value of n.  m.mu must be held.
func (m *NodeMap) valueLocked(n *entry) interface{} {
	return n.valueAt(m.selectorKeyLocked(n))
}

func (n *entry) valueAt(key string) interface{} {
	if v, ok := n.vals[key]; ok {
		return v
	}
	return n.Value
}

// lookup finds a node and checks its kind.  m.mu must be held.
func (m *NodeMap) lookup(name, op string, kind Kind) (*entry, error) {
	if m.dead != nil {
		return nil, accessErr(name, op, m.dead)
	}
	n, ok := m.nodes[name]
	if !ok {
		return nil, accessErr(name, op, ErrNotFound)
	}
	if kind != 0 && n.Kind != kind {
		return nil, accessErr(name, op, fmt.Errorf("%w: %v, not %v", ErrWrongKind, n.Kind, kind))
	}
	return n, nil
}

func (m *NodeMap) get(name string, kind Kind) (interface{}, error) {
	m.mu.RLock()
	n, err := m.lookup(name, "get", kind)
	if err != nil {
		m.mu.RUnlock()
		return nil, err
	}
	if !n.Node.Access.Readable() {
		a := n.Node.Access
		m.mu.RUnlock()
		if a == NA {
			return nil, accessErr(name, "get", ErrNotAvailable)
		}
		return nil, accessErr(name, "get", ErrNotReadable)
	}
	getter := n.Get
	v := m.valueLocked(n)
	m.mu.RUnlock()
	if getter != nil {
		if gv, ok := normalize(n.Kind, getter()); ok {
			return gv, nil
		}
	}
	return v, nil
}

func (m *NodeMap) set(name string, kind Kind, v interface{}) error {
	m.mu.RLock()
	n, err := m.lookup(name, "set", kind)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	if !n.Node.Access.Writable() {
		a := n.Node.Access
		m.mu.RUnlock()
		if a == NA {
			return accessErr(name, "set", ErrNotAvailable)
		}
		return accessErr(name, "set", ErrNotWritable)
	}
	nv, ok := normalize(n.Kind, v)
	if !ok {
		m.mu.RUnlock()
		return accessErr(name, "set", fmt.Errorf("%w: %T for %v", ErrWrongKind, v, n.Kind))
	}
	if err := n.check(nv); err != nil {
		m.mu.RUnlock()
		return accessErr(name, "set", err)
	}
	hook := n.OnWrite
	m.mu.RUnlock()

	if hook != nil {
		if err := hook(nv); err != nil {
			return accessErr(name, "set", err)
		}
	}
	m.mu.Lock()
	n.vals[m.selectorKeyLocked(n)] = nv
	m.mu.Unlock()
	m.notify(name)
	return nil
}

func (m *NodeMap) execute(name string) error {
	m.mu.RLock()
	n, err := m.lookup(name, "execute", KindCommand)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	if !n.Node.Access.Writable() {
		a := n.Node.Access
		m.mu.RUnlock()
		if a == NA {
			return accessErr(name, "execute", ErrNotAvailable)
		}
		return accessErr(name, "execute", ErrNotWritable)
	}
	hook := n.OnExecute
	m.mu.RUnlock()
	if hook != nil {
		if err := hook(); err != nil {
			return accessErr(name, "execute", err)
		}
	}
	m.notify(name)
	return nil
}

// ValueString returns the value of any readable, valued feature as text
func (m *NodeMap) ValueString(name string) (string, error) {
	v, err := m.get(name, 0)
	if err != nil {
		return "", err
	}
	k, _ := m.Kind(name)
	if v == nil {
		return "", accessErr(name, "get", fmt.Errorf("%w: %v has no value", ErrWrongKind, k))
	}
	return format(k, v), nil
}

// SetValueString parses s for the feature's kind and writes it
func (m *NodeMap) SetValueString(name, s string) error {
	k, err := m.Kind(name)
	if err != nil {
		return err
	}
	v, err := parse(k, s)
	if err != nil {
		return accessErr(name, "set", fmt.Errorf("%w: %q: %v", ErrOutOfRange, s, err))
	}
	return m.set(name, k, v)
}

// Invalidate makes every later access fail with err, e.g. when the device
// behind the map has been removed.  It cannot be undone.
func (m *NodeMap) Invalidate(err error) {
	m.mu.Lock()
	m.dead = err
	m.mu.Unlock()
}

// The methods below are for device implementations.  They bypass access
// checks and hooks but still notify subscribers.

// SetAccess changes a feature's access mode
func (m *NodeMap) SetAccess(name string, a Access) error {
	m.mu.Lock()
	n, err := m.lookup(name, "access", 0)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	changed := n.Node.Access != a
	n.Node.Access = a
	m.mu.Unlock()
	if changed {
		m.notify(name)
	}
	return nil
}

// SetIntRange changes an integer's bounds, clamping stored values into them
func (m *NodeMap) SetIntRange(name string, min, max int64) error {
	m.mu.Lock()
	n, err := m.lookup(name, "range", KindInteger)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	n.Min, n.Max = min, max
	n.Value = correctInt(n.Value.(int64), min, max, n.inc(), Down)
	for k, v := range n.vals {
		n.vals[k] = correctInt(v.(int64), min, max, n.inc(), Down)
	}
	m.mu.Unlock()
	m.notify(name)
	return nil
}

// SetFloatRange changes a float's bounds, clamping stored values into them
func (m *NodeMap) SetFloatRange(name string, min, max float64) error {
	m.mu.Lock()
	n, err := m.lookup(name, "range", KindFloat)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	n.FMin, n.FMax = min, max
	n.Value = correctFloat(n.Value.(float64), min, max, Nearest)
	for k, v := range n.vals {
		n.vals[k] = correctFloat(v.(float64), min, max, Nearest)
	}
	m.mu.Unlock()
	m.notify(name)
	return nil
}

// SetEntries replaces the symbolic values of an enumeration
func (m *NodeMap) SetEntries(name string, entries []string) error {
	m.mu.Lock()
	n, err := m.lookup(name, "entries", KindEnumeration)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	n.Entries = append([]string(nil), entries...)
	m.mu.Unlock()
	return nil
}

// Store writes a value under the current selector value
func (m *NodeMap) Store(name string, v interface{}) error {
	m.mu.RLock()
	n, err := m.lookup(name, "store", 0)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	key := m.selectorKeyLocked(n)
	m.mu.RUnlock()
	return m.StoreAt(name, key, v)
}

// StoreAt writes a value under a specific selector value, "" for unselected nodes
func (m *NodeMap) StoreAt(name, selector string, v interface{}) error {
	m.mu.Lock()
	n, err := m.lookup(name, "store", 0)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	nv, ok := normalize(n.Kind, v)
	if !ok {
		m.mu.Unlock()
		return accessErr(name, "store", fmt.Errorf("%w: %T for %v", ErrWrongKind, v, n.Kind))
	}
	n.vals[selector] = nv
	m.mu.Unlock()
	m.notify(name)
	return nil
}

// ValueAt reads a value as stored under a specific selector value,
// without access checks
func (m *NodeMap) ValueAt(name, selector string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.lookup(name, "get", 0)
	if err != nil {
		return nil, err
	}
	return n.valueAt(selector), nil
}
