package objrt

import (
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
)

// Selector names an operation that objects respond to.
type Selector string

// Dealloc is the lifecycle-teardown selector. Root classes of the managed
// kind define it; it runs when the last reference of an object is released.
const Dealloc Selector = "dealloc"

var (
	// ErrUnrecognizedSelector means the receiver does not respond to a
	// selector.
	ErrUnrecognizedSelector = errors.New("unrecognized selector")

	// ErrMethodExists means a class already defines a selector itself.
	ErrMethodExists = errors.New("method already defined")

	// ErrInvalidFunc means a function cannot serve as a method.
	ErrInvalidFunc = errors.New("invalid method function")

	// ErrArgumentMismatch means the arguments of a message do not fit the
	// method signature.
	ErrArgumentMismatch = errors.New("argument mismatch")
)

var objectPtrType = reflect.TypeOf((*Object)(nil))

// An Implementation is the executable behavior bound to a Method. Two
// Implementations are the same entry point only if they are the same pointer.
type Implementation struct {
	fn func(self *Object, args []reflect.Value) []reflect.Value
}

// NewImplementation wraps fn as an Implementation.
func NewImplementation(
	fn func(self *Object, args []reflect.Value) []reflect.Value,
) *Implementation {
	return &Implementation{fn: fn}
}

// Call runs the implementation.
func (i *Implementation) Call(
	self *Object,
	args []reflect.Value,
) []reflect.Value {
	return i.fn(self, args)
}

// A Method is one entry of a class's dispatch table.
type Method struct {
	sel   Selector
	typ   reflect.Type
	owner *Class
	imp   atomic.Pointer[Implementation]
}

func newMethod(
	owner *Class,
	sel Selector,
	typ reflect.Type,
	imp *Implementation,
) *Method {
	m := &Method{sel: sel, typ: typ, owner: owner}
	m.imp.Store(imp)

	return m
}

// Selector returns the selector that the method serves.
func (m *Method) Selector() Selector {
	return m.sel
}

// Type returns the signature of the method as a func type, without the
// receiver.
func (m *Method) Type() reflect.Type {
	return m.typ
}

// Owner returns the class whose dispatch table holds the method.
func (m *Method) Owner() *Class {
	return m.owner
}

// Implementation returns the implementation currently bound to the method.
func (m *Method) Implementation() *Implementation {
	return m.imp.Load()
}

// SetImplementation binds a new implementation and returns the previous one.
func (m *Method) SetImplementation(imp *Implementation) *Implementation {
	return m.imp.Swap(imp)
}

// CompareAndSetImplementation binds imp only if the method is still bound to
// old. It reports whether it did.
func (m *Method) CompareAndSetImplementation(old, imp *Implementation) bool {
	return m.imp.CompareAndSwap(old, imp)
}

// implementationFromFunc turns a Go func whose first parameter is *Object into
// a method signature and an implementation.
func implementationFromFunc(fn any) (reflect.Type, *Implementation, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, nil, fmt.Errorf("%w: %T is not a func", ErrInvalidFunc, fn)
	}

	t := v.Type()
	if t.IsVariadic() {
		return nil, nil, fmt.Errorf("%w: variadic funcs are not supported",
			ErrInvalidFunc)
	}

	if t.NumIn() == 0 || t.In(0) != objectPtrType {
		return nil, nil, fmt.Errorf(
			"%w: first parameter of %s must be *objrt.Object",
			ErrInvalidFunc, t)
	}

	in := make([]reflect.Type, 0, t.NumIn()-1)
	for i := 1; i < t.NumIn(); i++ {
		in = append(in, t.In(i))
	}

	out := make([]reflect.Type, 0, t.NumOut())
	for i := 0; i < t.NumOut(); i++ {
		out = append(out, t.Out(i))
	}

	sig := reflect.FuncOf(in, out, false)
	imp := NewImplementation(
		func(self *Object, args []reflect.Value) []reflect.Value {
			in := make([]reflect.Value, 0, len(args)+1)
			in = append(in, reflect.ValueOf(self))
			in = append(in, args...)

			return v.Call(in)
		})

	return sig, imp, nil
}
