package objrt

import (
	"sync"
	"sync/atomic"
)

// An Object is an instance of a Class. It starts with one reference.
type Object struct {
	isa      atomic.Pointer[Class]
	refs     atomic.Int32
	immortal bool

	deallocating atomic.Bool
	tornDown     atomic.Bool

	delegatesMu sync.Mutex
	delegates   []*DeallocDelegate
}

// A DeallocDelegate is a callback that runs after an object is torn down.
type DeallocDelegate struct {
	fn func()
}

// New creates an instance of cls holding one reference.
func New(cls *Class) *Object {
	if cls == nil || cls.isMeta {
		panic("objrt: cannot instantiate a nil class or a metaclass")
	}

	o := &Object{}
	o.isa.Store(cls)
	o.refs.Store(1)

	return o
}

// Class returns the class that currently serves the object's dispatch. It can
// be a synthetic subclass.
func (o *Object) Class() *Class {
	return o.isa.Load()
}

// RealClass returns the class of the object ignoring synthetic subclasses.
func (o *Object) RealClass() *Class {
	return o.Class().RealClass()
}

// SetClass swaps the class pointer and returns the previous class.
func (o *Object) SetClass(cls *Class) *Class {
	return o.isa.Swap(cls)
}

// CompareAndSetClass swaps the class pointer only if it is still old.
func (o *Object) CompareAndSetClass(old, cls *Class) bool {
	return o.isa.CompareAndSwap(old, cls)
}

// Retain adds a reference.
func (o *Object) Retain() *Object {
	if !o.immortal {
		o.refs.Add(1)
	}

	return o
}

// Release drops a reference. Dropping the last one tears the object down.
func (o *Object) Release() {
	if o.immortal {
		return
	}

	refs := o.refs.Add(-1)
	switch {
	case refs == 0:
		o.dealloc()
	case refs < 0:
		panic("objrt: object released too many times")
	}
}

// RetainCount returns the number of live references.
func (o *Object) RetainCount() int {
	return int(o.refs.Load())
}

// IsDeallocating tells whether the teardown of the object has started.
func (o *Object) IsDeallocating() bool {
	return o.deallocating.Load()
}

// IsTornDown tells whether the Dealloc implementation of a managed root class
// has run.
func (o *Object) IsTornDown() bool {
	return o.tornDown.Load()
}

func (o *Object) dealloc() {
	if !o.deallocating.CompareAndSwap(false, true) {
		return
	}

	if o.Class().Kind() == KindManaged {
		_, _ = Send(o, Dealloc)
	} else {
		o.tornDown.Store(true)
	}

	o.delegatesMu.Lock()
	delegates := o.delegates
	o.delegates = nil
	o.delegatesMu.Unlock()

	for _, d := range delegates {
		d.fn()
	}
}

// AddDeallocDelegate registers fn to run after the object is torn down. It is
// the only way to observe the end of life of plain-kind objects.
func (o *Object) AddDeallocDelegate(fn func()) *DeallocDelegate {
	d := &DeallocDelegate{fn: fn}

	o.delegatesMu.Lock()
	defer o.delegatesMu.Unlock()

	o.delegates = append(o.delegates, d)

	return d
}

// RemoveDeallocDelegate unregisters d. It returns false if d is not
// registered, including when it has already run.
func (o *Object) RemoveDeallocDelegate(d *DeallocDelegate) bool {
	o.delegatesMu.Lock()
	defer o.delegatesMu.Unlock()

	for i, registered := range o.delegates {
		if registered == d {
			o.delegates = append(o.delegates[:i:i], o.delegates[i+1:]...)
			return true
		}
	}

	return false
}

// NumDeallocDelegates returns the number of pending dealloc delegates.
func (o *Object) NumDeallocDelegates() int {
	o.delegatesMu.Lock()
	defer o.delegatesMu.Unlock()

	return len(o.delegates)
}
