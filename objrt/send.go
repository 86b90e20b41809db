package objrt

import (
	"fmt"
	"reflect"
)

// Send dispatches sel to the object with args and returns the results.
func Send(o *Object, sel Selector, args ...any) ([]any, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: nil receiver for %q",
			ErrUnrecognizedSelector, sel)
	}

	cls := o.Class()

	m := cls.LookupMethod(sel)
	if m == nil {
		return nil, fmt.Errorf("%w: %s does not respond to %q",
			ErrUnrecognizedSelector, cls.Name(), sel)
	}

	in, err := argumentValues(m.Type(), args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", cls.Name(), sel, err)
	}

	out := m.Implementation().Call(o, in)

	results := make([]any, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}

	return results, nil
}

// SendClass dispatches a class-side message.
func SendClass(c *Class, sel Selector, args ...any) ([]any, error) {
	if c.isMeta {
		return nil, fmt.Errorf("%w: metaclass %s cannot receive %q",
			ErrUnrecognizedSelector, c.name, sel)
	}

	return Send(c.object, sel, args...)
}

func argumentValues(sig reflect.Type, args []any) ([]reflect.Value, error) {
	if len(args) != sig.NumIn() {
		return nil, fmt.Errorf("%w: want %d arguments, got %d",
			ErrArgumentMismatch, sig.NumIn(), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		want := sig.In(i)

		if arg == nil {
			if !isNillable(want.Kind()) {
				return nil, fmt.Errorf("%w: argument %d of type %s cannot be nil",
					ErrArgumentMismatch, i, want)
			}

			in[i] = reflect.Zero(want)

			continue
		}

		v := reflect.ValueOf(arg)
		if !v.Type().AssignableTo(want) {
			return nil, fmt.Errorf("%w: argument %d is %s, want %s",
				ErrArgumentMismatch, i, v.Type(), want)
		}

		in[i] = v
	}

	return in, nil
}

func isNillable(k reflect.Kind) bool {
	switch k {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map,
		reflect.Pointer, reflect.Slice:
		return true
	default:
		return false
	}
}
