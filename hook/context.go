package hook

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sarchlab/interpose/objrt"
)

// An entry is one registered closure. Its address is its identity.
type entry struct {
	fn   reflect.Value
	mode Mode

	// internal entries clean up after an object's end of life; they are not
	// user hooks.
	internal bool
}

func newEntry(closure any, mode Mode) *entry {
	return &entry{fn: reflect.ValueOf(closure), mode: mode}
}

// call runs a before or after closure, handing it as many of the arguments
// and results as it takes.
func (e *entry) call(args, results []reflect.Value) {
	switch e.fn.Type().NumIn() {
	case 0:
		e.fn.Call(nil)
	case len(args):
		e.fn.Call(args)
	default:
		in := make([]reflect.Value, 0, len(args)+len(results))
		in = append(in, args...)
		in = append(in, results...)
		e.fn.Call(in)
	}
}

// A hookContext owns the interception of one selector on one class.
type hookContext struct {
	id        string
	class     *objrt.Class
	sel       objrt.Selector
	method    *objrt.Method
	original  *objrt.Implementation
	installed *objrt.Implementation

	mu      sync.RWMutex
	before  []*entry
	after   []*entry
	instead *entry
}

// newHookContext replaces the class's own entry for sel with the context's
// dispatcher. The class must define sel itself.
func newHookContext(
	id string,
	cls *objrt.Class,
	sel objrt.Selector,
) (*hookContext, error) {
	m := cls.OwnMethod(sel)
	if m == nil {
		return nil, fmt.Errorf("%w: %s has no own entry for %q",
			ErrInternalInconsistency, cls.Name(), sel)
	}

	c := &hookContext{
		id:     id,
		class:  cls,
		sel:    sel,
		method: m,
	}
	c.installed = objrt.NewImplementation(c.invoke)
	c.original = m.SetImplementation(c.installed)

	return c, nil
}

func (c *hookContext) append(e *entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.mode {
	case Before:
		c.before = append(c.before, e)
	case After:
		c.after = append(c.after, e)
	case Instead:
		if c.instead != nil {
			return fmt.Errorf("%w: %s.%s", ErrDuplicateInstead,
				c.class.Name(), c.sel)
		}

		c.instead = e
	default:
		return fmt.Errorf("%w: mode %s", ErrUnsupported, e.mode)
	}

	return nil
}

func (c *hookContext) remove(e *entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false

	switch e.mode {
	case Before:
		c.before, found = removeEntry(c.before, e)
	case After:
		c.after, found = removeEntry(c.after, e)
	case Instead:
		if c.instead == e {
			c.instead = nil
			found = true
		}
	}

	if !found {
		return fmt.Errorf("%w: %s closure on %s.%s",
			ErrNotFound, e.mode, c.class.Name(), c.sel)
	}

	return nil
}

// removeEntry never writes into the backing array of chain, so snapshots
// taken by running dispatches stay intact.
func removeEntry(chain []*entry, e *entry) ([]*entry, bool) {
	for i, registered := range chain {
		if registered == e {
			return append(chain[:i:i], chain[i+1:]...), true
		}
	}

	return chain, false
}

func (c *hookContext) isEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.before) == 0 && len(c.after) == 0 && c.instead == nil
}

func (c *hookContext) hasInstead() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.instead != nil
}

// stillInstalled tells whether the class's dispatch entry is still the one
// this context installed.
func (c *hookContext) stillInstalled() (bool, error) {
	current := c.class.OwnMethod(c.sel)
	if current == nil {
		return false, fmt.Errorf("%w: %s lost its own entry for %q",
			ErrInternalInconsistency, c.class.Name(), c.sel)
	}

	return current == c.method && current.Implementation() == c.installed, nil
}

// restore puts the original implementation back if the entry still holds
// the installed one. The check and the write are one compare-and-swap.
func (c *hookContext) restore() bool {
	if c.class.OwnMethod(c.sel) != c.method {
		return false
	}

	return c.method.CompareAndSetImplementation(c.installed, c.original)
}

func (c *hookContext) invoke(
	self *objrt.Object,
	args []reflect.Value,
) []reflect.Value {
	c.mu.RLock()
	before, after, instead := c.before, c.after, c.instead
	c.mu.RUnlock()

	for _, e := range before {
		e.call(args, nil)
	}

	var results []reflect.Value
	if instead != nil {
		original := reflect.MakeFunc(c.method.Type(),
			func(in []reflect.Value) []reflect.Value {
				return c.original.Call(self, in)
			})

		in := make([]reflect.Value, 0, len(args)+1)
		in = append(in, original)
		in = append(in, args...)
		results = instead.fn.Call(in)
	} else {
		results = c.original.Call(self, args)
	}

	for _, e := range after {
		e.call(args, results)
	}

	return results
}

func (c *hookContext) info() ContextInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := ContextInfo{
		ID:        c.id,
		Class:     c.class.Name(),
		Selector:  string(c.sel),
		Synthetic: c.class.IsSynthetic(),
		Meta:      c.class.IsMeta(),
		Before:    len(c.before),
		Instead:   c.instead != nil,
	}

	for _, e := range c.after {
		if e.internal {
			info.Cleanup = true
			continue
		}

		info.After++
	}

	return info
}

// ContextInfo describes one hook context for introspection.
type ContextInfo struct {
	ID        string
	Class     string
	Selector  string
	Synthetic bool
	Meta      bool
	Before    int
	After     int
	Instead   bool
	Cleanup   bool
}
