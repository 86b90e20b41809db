// Package signature checks whether a closure can intercept a method.
//
// A method shape is the method's func type without its receiver, for
// example func(int, int) int. Closures that observe a call (before or after
// it) take no parameters or the method's parameters; closures that observe
// the end of a call may also take the results. Closures that replace a call
// take the original implementation as a func of the method shape, followed by
// the method's parameters, and return the method's results.
package signature

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrMismatch means a closure does not fit the method shape.
var ErrMismatch = errors.New("signature mismatch")

// Role tells how a closure takes part in a call.
type Role int

const (
	// Observe closures run before the call and see its arguments.
	Observe Role = iota

	// ObserveResult closures run after the call and see its arguments and
	// results.
	ObserveResult

	// Replace closures run in place of the call.
	Replace
)

func (r Role) String() string {
	switch r {
	case Observe:
		return "observe"
	case ObserveResult:
		return "observe-result"
	case Replace:
		return "replace"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Check validates closure against shape for the given role.
func Check(closure any, shape reflect.Type, role Role) error {
	if shape == nil || shape.Kind() != reflect.Func {
		return fmt.Errorf("%w: method shape %v is not a func type",
			ErrMismatch, shape)
	}

	v := reflect.ValueOf(closure)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("%w: closure %T is not a func", ErrMismatch, closure)
	}

	t := v.Type()
	if t.IsVariadic() != shape.IsVariadic() && t.NumIn() > 0 {
		return fmt.Errorf("%w: closure %s and method %s disagree on variadic",
			ErrMismatch, t, shape)
	}

	switch role {
	case Observe:
		return checkObserver(t, shape, false)
	case ObserveResult:
		return checkObserver(t, shape, true)
	case Replace:
		return checkReplacement(t, shape)
	default:
		return fmt.Errorf("%w: unknown role %s", ErrMismatch, role)
	}
}

func checkObserver(t, shape reflect.Type, withResults bool) error {
	if t.NumOut() != 0 {
		return fmt.Errorf("%w: observing closure %s must not return values",
			ErrMismatch, t)
	}

	switch t.NumIn() {
	case 0:
		return nil
	case shape.NumIn():
		return matchParams(t, 0, shape)
	case shape.NumIn() + shape.NumOut():
		if !withResults {
			break
		}

		if err := matchParams(t, 0, shape); err != nil {
			return err
		}

		for i := 0; i < shape.NumOut(); i++ {
			got := t.In(shape.NumIn() + i)
			if got != shape.Out(i) {
				return fmt.Errorf("%w: closure takes %s for result %d, "+
					"method returns %s", ErrMismatch, got, i, shape.Out(i))
			}
		}

		return nil
	}

	return fmt.Errorf("%w: closure %s does not fit method %s",
		ErrMismatch, t, shape)
}

func checkReplacement(t, shape reflect.Type) error {
	if t.NumIn() != shape.NumIn()+1 {
		return fmt.Errorf("%w: replacing closure %s must take %s "+
			"followed by the method parameters", ErrMismatch, t, shape)
	}

	if t.In(0) != shape {
		return fmt.Errorf("%w: first parameter of replacing closure is %s, "+
			"want %s", ErrMismatch, t.In(0), shape)
	}

	if err := matchParams(t, 1, shape); err != nil {
		return err
	}

	if t.NumOut() != shape.NumOut() {
		return fmt.Errorf("%w: replacing closure returns %d values, "+
			"method returns %d", ErrMismatch, t.NumOut(), shape.NumOut())
	}

	for i := 0; i < shape.NumOut(); i++ {
		if t.Out(i) != shape.Out(i) {
			return fmt.Errorf("%w: result %d of replacing closure is %s, "+
				"want %s", ErrMismatch, i, t.Out(i), shape.Out(i))
		}
	}

	return nil
}

func matchParams(t reflect.Type, offset int, shape reflect.Type) error {
	for i := 0; i < shape.NumIn(); i++ {
		got := t.In(offset + i)
		if got != shape.In(i) {
			return fmt.Errorf("%w: parameter %d of closure is %s, want %s",
				ErrMismatch, i, got, shape.In(i))
		}
	}

	return nil
}
