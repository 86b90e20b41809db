package objrt

import (
	"fmt"
	"reflect"
	"sync"
)

// Kind tells how the end of an object's life can be observed.
type Kind int

const (
	// KindManaged objects dispatch Dealloc when they are torn down, so the
	// teardown can be intercepted like any other method.
	KindManaged Kind = iota

	// KindPlain objects are torn down without dispatching. Only dealloc
	// delegates observe their end of life.
	KindPlain
)

func (k Kind) String() string {
	switch k {
	case KindManaged:
		return "managed"
	case KindPlain:
		return "plain"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// A Class owns a dispatch table. Each class has a metaclass whose dispatch
// table holds the class-side methods, and a class object that receives
// class-side messages.
type Class struct {
	name      string
	super     *Class
	kind      Kind
	meta      *Class
	object    *Object
	isMeta    bool
	synthetic bool

	mu      sync.RWMutex
	methods map[Selector]*Method
}

// NewRootClass creates a class without a superclass. Managed roots define
// Dealloc.
func NewRootClass(name string, kind Kind) *Class {
	c := newClass(name, nil, kind, false)

	if kind == KindManaged {
		c.MustAddMethod(Dealloc, func(self *Object) {
			self.tornDown.Store(true)
		})
	}

	return c
}

// NewClass creates a subclass of super. The subclass inherits the kind of
// its superclass.
func NewClass(name string, super *Class) *Class {
	if super == nil {
		panic("objrt: superclass must not be nil")
	}

	return newClass(name, super, super.kind, false)
}

// NewSyntheticSubclass creates a subclass of base that exists only to shadow
// the dispatch of a single object.
func NewSyntheticSubclass(name string, base *Class) *Class {
	if base == nil {
		panic("objrt: base class must not be nil")
	}

	return newClass(name, base, base.kind, true)
}

func newClass(name string, super *Class, kind Kind, synthetic bool) *Class {
	var superMeta *Class
	if super != nil {
		superMeta = super.meta
	}

	meta := &Class{
		name:      name,
		super:     superMeta,
		kind:      KindPlain,
		isMeta:    true,
		synthetic: synthetic,
		methods:   make(map[Selector]*Method),
	}

	c := &Class{
		name:      name,
		super:     super,
		kind:      kind,
		meta:      meta,
		synthetic: synthetic,
		methods:   make(map[Selector]*Method),
	}

	c.object = &Object{immortal: true}
	c.object.isa.Store(meta)

	return c
}

// Name returns the name of the class.
func (c *Class) Name() string {
	return c.name
}

// Super returns the superclass, or nil for a root class.
func (c *Class) Super() *Class {
	return c.super
}

// Kind returns the lifetime kind of the class's instances.
func (c *Class) Kind() Kind {
	return c.kind
}

// Meta returns the metaclass. Hooking a class-side method means hooking the
// metaclass.
func (c *Class) Meta() *Class {
	if c.isMeta {
		return c
	}

	return c.meta
}

// IsMeta tells whether the class is a metaclass.
func (c *Class) IsMeta() bool {
	return c.isMeta
}

// IsSynthetic tells whether the class shadows a single object.
func (c *Class) IsSynthetic() bool {
	return c.synthetic
}

// AddMethod defines sel on the class. fn must be a func whose first parameter
// is *Object.
func (c *Class) AddMethod(sel Selector, fn any) error {
	typ, imp, err := implementationFromFunc(fn)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, found := c.methods[sel]; found {
		return fmt.Errorf("%w: %s already defines %q",
			ErrMethodExists, c.name, sel)
	}

	c.methods[sel] = newMethod(c, sel, typ, imp)

	return nil
}

// MustAddMethod is AddMethod that panics on error.
func (c *Class) MustAddMethod(sel Selector, fn any) {
	if err := c.AddMethod(sel, fn); err != nil {
		panic(err)
	}
}

// AddClassMethod defines a class-side method.
func (c *Class) AddClassMethod(sel Selector, fn any) error {
	return c.Meta().AddMethod(sel, fn)
}

// OwnMethod returns the method that the class defines itself, or nil if the
// class only inherits sel or does not respond to it.
func (c *Class) OwnMethod(sel Selector) *Method {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.methods[sel]
}

// LookupMethod returns the method that serves sel for instances of the class,
// searching superclasses.
func (c *Class) LookupMethod(sel Selector) *Method {
	for cls := c; cls != nil; cls = cls.super {
		if m := cls.OwnMethod(sel); m != nil {
			return m
		}
	}

	return nil
}

// RespondsTo tells whether instances of the class respond to sel.
func (c *Class) RespondsTo(sel Selector) bool {
	return c.LookupMethod(sel) != nil
}

// OverrideFromSuper gives the class its own entry for an inherited selector.
// The new entry forwards to whatever the superclass serves at call time, so
// replacing it later does not touch the superclass's dispatch table.
func (c *Class) OverrideFromSuper(sel Selector) (*Method, error) {
	if c.super == nil {
		return nil, fmt.Errorf("%w: %s has no superclass serving %q",
			ErrUnrecognizedSelector, c.name, sel)
	}

	inherited := c.super.LookupMethod(sel)
	if inherited == nil {
		return nil, fmt.Errorf("%w: %s does not respond to %q",
			ErrUnrecognizedSelector, c.name, sel)
	}

	super := c.super
	imp := NewImplementation(
		func(self *Object, args []reflect.Value) []reflect.Value {
			return super.LookupMethod(sel).Implementation().Call(self, args)
		})

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, found := c.methods[sel]; found {
		return nil, fmt.Errorf("%w: %s already defines %q",
			ErrMethodExists, c.name, sel)
	}

	m := newMethod(c, sel, inherited.Type(), imp)
	c.methods[sel] = m

	return m, nil
}

// IsSubclassOf tells whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cls := c; cls != nil; cls = cls.super {
		if cls == other {
			return true
		}
	}

	return false
}

// RealClass returns the closest non-synthetic class in the superclass chain.
func (c *Class) RealClass() *Class {
	cls := c
	for cls != nil && cls.synthetic {
		cls = cls.super
	}

	return cls
}

func (c *Class) String() string {
	return c.name
}
