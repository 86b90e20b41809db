package hook

import (
	"fmt"
	"reflect"
	"weak"

	"go.uber.org/zap"

	"github.com/sarchlab/interpose/objrt"
)

const syntheticClassPrefix = "Interpose_"

// An instanceWrapper ties one object to the synthetic subclass that carries
// its hooks.
type instanceWrapper struct {
	object   weak.Pointer[objrt.Object]
	class    *objrt.Class
	original *objrt.Class

	// User tokens in registration order.
	tokens []*Token

	// End-of-life cleanup: an after-dealloc entry for managed kinds, a
	// dealloc delegate for plain kinds.
	cleanup  *entry
	delegate *objrt.DeallocDelegate
}

func (w *instanceWrapper) info() WrapInfo {
	return WrapInfo{Class: w.original.Name(), Synthetic: w.class.Name()}
}

func (w *instanceWrapper) removeToken(t *Token) {
	for i, registered := range w.tokens {
		if registered == t {
			w.tokens = append(w.tokens[:i:i], w.tokens[i+1:]...)
			return
		}
	}
}

// wrapperLocked finds the wrapper of obj, looking through synthetic
// subclasses that other layers may have put on top of ours.
func (m *Manager) wrapperLocked(obj *objrt.Object) *instanceWrapper {
	for cls := obj.Class(); cls != nil && cls.IsSynthetic(); cls = cls.Super() {
		w, found := m.wrappers[cls]
		if found && w.object.Value() == obj {
			return w
		}
	}

	return nil
}

func (m *Manager) wrapLocked(obj *objrt.Object) (*instanceWrapper, error) {
	base := obj.Class()
	name := syntheticClassPrefix + base.Name() + "_" + m.idGen.Generate()

	w := &instanceWrapper{
		object:   weak.Make(obj),
		class:    objrt.NewSyntheticSubclass(name, base),
		original: base,
	}

	if !obj.CompareAndSetClass(base, w.class) {
		return nil, fmt.Errorf("%w: class of object changed while wrapping",
			ErrInternalInconsistency)
	}

	m.wrappers[w.class] = w

	if base.Kind() == objrt.KindManaged {
		ctx, err := m.contextLocked(w.class, objrt.Dealloc)
		if err != nil {
			m.discardWrapperLocked(w, obj)
			return nil, err
		}

		w.cleanup = &entry{
			fn:       reflect.ValueOf(func() { m.releaseObject(w) }),
			mode:     After,
			internal: true,
		}

		if err := ctx.append(w.cleanup); err != nil {
			m.discardWrapperLocked(w, obj)
			return nil, err
		}
	} else {
		w.delegate = obj.AddDeallocDelegate(func() { m.releaseObject(w) })
	}

	// A teardown that started before the class swap dispatched through the
	// old class and will never reach the cleanup.
	if obj.IsDeallocating() {
		m.discardWrapperLocked(w, obj)
		return nil, fmt.Errorf("%w: object is being deallocated",
			ErrUnsupported)
	}

	m.logger.Debug("object wrapped",
		zap.String("class", base.Name()),
		zap.String("synthetic", w.class.Name()))
	m.notifyLocked(HookPosWrapped, w.info(), nil)

	return w, nil
}

// unwrapLocked moves the object back to its real class and drops every
// context and token of the synthetic subclass. It returns false if another
// layer has since wrapped the object on top of ours. The wrapper is then
// kept, unless the object is being deallocated: its end of life drops the
// wrapper under any layer, and the top layer restores the real class.
func (m *Manager) unwrapLocked(w *instanceWrapper) bool {
	restored := true

	obj := w.object.Value()
	if obj != nil {
		releasing := obj.IsDeallocating()

		target := w.original
		if releasing {
			target = w.original.RealClass()
		}

		if !obj.CompareAndSetClass(w.class, target) {
			if !releasing {
				m.logger.Warn("object rewrapped by another layer, keeping wrapper",
					zap.String("synthetic", w.class.Name()),
					zap.String("current", obj.Class().Name()))

				return false
			}

			m.logger.Debug("object released under another layer, dropping wrapper",
				zap.String("synthetic", w.class.Name()),
				zap.String("current", obj.Class().Name()))

			restored = false
		}

		if w.delegate != nil {
			obj.RemoveDeallocDelegate(w.delegate)
		}
	}

	for _, t := range w.tokens {
		t.invalidate()
	}
	w.tokens = nil

	m.releaseClassContextsLocked(w.class)
	delete(m.wrappers, w.class)

	m.logger.Debug("object unwrapped",
		zap.String("class", w.original.Name()),
		zap.String("synthetic", w.class.Name()),
		zap.Bool("alive", obj != nil))
	m.notifyLocked(HookPosUnwrapped, w.info(), nil)

	return restored
}

// discardWrapperLocked rolls back a wrapping that did not complete. No
// tokens exist yet and no event was raised for it.
func (m *Manager) discardWrapperLocked(w *instanceWrapper, obj *objrt.Object) {
	obj.CompareAndSetClass(w.class, w.original)

	if w.delegate != nil {
		obj.RemoveDeallocDelegate(w.delegate)
	}

	m.releaseClassContextsLocked(w.class)
	delete(m.wrappers, w.class)
}

func (m *Manager) releaseClassContextsLocked(cls *objrt.Class) {
	for key, ctx := range m.contexts {
		if key.class == cls {
			m.releaseContextLocked(key, ctx)
		}
	}
}

// releaseObject runs at the end of an object's life and cancels every token
// still registered on it.
func (m *Manager) releaseObject(w *instanceWrapper) {
	m.mu.Lock()
	tokens := append([]*Token(nil), w.tokens...)
	m.mu.Unlock()

	for _, t := range tokens {
		m.Cancel(t)
	}

	m.mu.Lock()
	defer m.unlockAndNotify()

	if m.wrappers[w.class] == w && len(w.tokens) == 0 {
		m.unwrapLocked(w)
	}
}
