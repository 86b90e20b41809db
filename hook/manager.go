package hook

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"sort"
	"sync"
	"weak"

	"go.uber.org/zap"

	"github.com/sarchlab/interpose/idgen"
	"github.com/sarchlab/interpose/instrumentation/hooking"
	"github.com/sarchlab/interpose/objrt"
)

type contextKey struct {
	class *objrt.Class
	sel   objrt.Selector
}

var deallocShape = reflect.TypeOf(func() {})

// A Manager owns a registry of hook contexts. Every registration and
// cancellation of one Manager is serialized by a single lock; calls to the
// hooked methods never take it.
type Manager struct {
	*hooking.HookableBase

	checker Checker
	logger  *zap.Logger
	debug   bool
	idGen   idgen.Generator

	mu       sync.Mutex
	contexts map[contextKey]*hookContext
	wrappers map[*objrt.Class]*instanceWrapper
	pending  []hooking.HookCtx
}

// HookClass registers closure on sel for every instance of cls.
func (m *Manager) HookClass(
	cls *objrt.Class,
	sel objrt.Selector,
	mode Mode,
	closure any,
) (*Token, error) {
	if cls == nil {
		return nil, fmt.Errorf("hook: %w: nil class", ErrUnsupported)
	}

	if cls.IsSynthetic() {
		return nil, fmt.Errorf("hook: %w: %s is a synthetic class",
			ErrUnsupported, cls.Name())
	}

	if err := m.checkParameters(cls, sel, mode, closure); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.unlockAndNotify()

	key := contextKey{class: cls, sel: sel}
	if err := m.checkInsteadLocked(key, mode); err != nil {
		return nil, err
	}

	ctx, err := m.contextLocked(cls, sel)
	if err != nil {
		return nil, err
	}

	e := newEntry(closure, mode)
	if err := ctx.append(e); err != nil {
		return nil, fmt.Errorf("hook: %w", err)
	}

	m.logger.Debug("class hooked",
		zap.String("class", cls.Name()),
		zap.String("selector", string(sel)),
		zap.Stringer("mode", mode))
	m.notifyLocked(HookPosHooked, ctx.info(), mode)

	return &Token{manager: m, mode: mode, ctx: ctx, entry: e}, nil
}

// HookObject registers closure on sel for obj only. Other instances of the
// object's class are not affected.
func (m *Manager) HookObject(
	obj *objrt.Object,
	sel objrt.Selector,
	mode Mode,
	closure any,
) (*Token, error) {
	if obj == nil {
		return nil, fmt.Errorf("hook: %w: nil object", ErrUnsupported)
	}

	if obj.IsDeallocating() {
		return nil, fmt.Errorf("hook: %w: object is being deallocated",
			ErrUnsupported)
	}

	realClass := obj.RealClass()
	if sel == objrt.Dealloc && realClass.Kind() == objrt.KindPlain {
		return m.hookDeallocByDelegate(obj, mode, closure)
	}

	if err := m.checkParameters(realClass, sel, mode, closure); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.unlockAndNotify()

	w := m.wrapperLocked(obj)
	if w != nil {
		err := m.checkInsteadLocked(contextKey{class: w.class, sel: sel}, mode)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		if w, err = m.wrapLocked(obj); err != nil {
			return nil, fmt.Errorf("hook: %w", err)
		}
	}

	ctx, err := m.contextLocked(w.class, sel)
	if err != nil {
		if len(w.tokens) == 0 {
			m.unwrapLocked(w)
		}

		return nil, err
	}

	e := newEntry(closure, mode)
	if err := ctx.append(e); err != nil {
		return nil, fmt.Errorf("hook: %w", err)
	}

	t := &Token{
		manager: m,
		mode:    mode,
		ctx:     ctx,
		entry:   e,
		wrapper: w,
		object:  weak.Make(obj),
	}
	w.tokens = append(w.tokens, t)

	m.logger.Debug("object hooked",
		zap.String("class", realClass.Name()),
		zap.String("synthetic", w.class.Name()),
		zap.String("selector", string(sel)),
		zap.Stringer("mode", mode))
	m.notifyLocked(HookPosHooked, ctx.info(), mode)

	return t, nil
}

// hookDeallocByDelegate serves dealloc hooks on plain-kind objects, whose
// teardown cannot be intercepted through the dispatch table.
func (m *Manager) hookDeallocByDelegate(
	obj *objrt.Object,
	mode Mode,
	closure any,
) (*Token, error) {
	if mode != After {
		return nil, fmt.Errorf("hook: %w: %s dealloc on a %s object",
			ErrUnsupported, mode, objrt.KindPlain)
	}

	if err := m.checker.CanApply(closure, deallocShape, mode); err != nil {
		return nil, fmt.Errorf("hook: %w", err)
	}

	m.mu.Lock()
	defer m.unlockAndNotify()

	fn := reflect.ValueOf(closure)
	t := &Token{
		manager: m,
		mode:    mode,
		entry:   newEntry(closure, mode),
		object:  weak.Make(obj),
	}

	t.delegate = obj.AddDeallocDelegate(func() {
		fn.Call(nil)

		m.mu.Lock()
		t.invalidate()
		m.mu.Unlock()
	})

	m.logger.Debug("dealloc delegate added",
		zap.String("class", obj.RealClass().Name()))
	m.notifyLocked(HookPosHooked, ContextInfo{
		Class:    obj.RealClass().Name(),
		Selector: string(objrt.Dealloc),
		After:    1,
	}, mode)

	return t, nil
}

// checkParameters validates a registration without touching any state.
func (m *Manager) checkParameters(
	cls *objrt.Class,
	sel objrt.Selector,
	mode Mode,
	closure any,
) error {
	if !mode.valid() {
		return fmt.Errorf("hook: %w: %s", ErrUnsupported, mode)
	}

	if sel == objrt.Dealloc {
		if mode == Instead {
			return fmt.Errorf("hook: %w: dealloc cannot be replaced",
				ErrUnsupported)
		}

		if cls.Kind() != objrt.KindManaged {
			return fmt.Errorf("hook: %w: dealloc of %s class %s",
				ErrUnsupported, cls.Kind(), cls.Name())
		}
	}

	method := cls.LookupMethod(sel)
	if method == nil {
		return fmt.Errorf("hook: %w: %s does not respond to %q",
			ErrNoSuchOperation, cls.Name(), sel)
	}

	if err := m.checker.CanApply(closure, method.Type(), mode); err != nil {
		return fmt.Errorf("hook: %w", err)
	}

	return nil
}

func (m *Manager) checkInsteadLocked(key contextKey, mode Mode) error {
	if mode != Instead {
		return nil
	}

	ctx, found := m.contexts[key]
	if found && ctx.hasInstead() {
		return fmt.Errorf("hook: %w: %s.%s",
			ErrDuplicateInstead, key.class.Name(), key.sel)
	}

	return nil
}

// contextLocked returns the context of (cls, sel), creating it and taking
// over the class's dispatch entry if needed.
func (m *Manager) contextLocked(
	cls *objrt.Class,
	sel objrt.Selector,
) (*hookContext, error) {
	key := contextKey{class: cls, sel: sel}
	if ctx, found := m.contexts[key]; found {
		return ctx, nil
	}

	if cls.OwnMethod(sel) == nil {
		_, err := cls.OverrideFromSuper(sel)
		if err != nil && !errors.Is(err, objrt.ErrMethodExists) {
			return nil, fmt.Errorf("hook: %w: %w", ErrNoSuchOperation, err)
		}
	}

	ctx, err := newHookContext(m.idGen.Generate(), cls, sel)
	if err != nil {
		m.inconsistency(err)
		return nil, fmt.Errorf("hook: %w", err)
	}

	m.contexts[key] = ctx

	m.logger.Debug("hook context created",
		zap.String("id", ctx.id),
		zap.String("class", cls.Name()),
		zap.String("selector", string(sel)))
	m.notifyLocked(HookPosContextCreated, ctx.info(), nil)

	return ctx, nil
}

func (m *Manager) releaseContextLocked(key contextKey, ctx *hookContext) {
	m.evictContextLocked(key, ctx, ctx.restore())
}

func (m *Manager) evictContextLocked(
	key contextKey,
	ctx *hookContext,
	restored bool,
) {
	if m.contexts[key] == ctx {
		delete(m.contexts, key)
	}

	m.logger.Debug("hook context released",
		zap.String("id", ctx.id),
		zap.String("class", ctx.class.Name()),
		zap.String("selector", string(ctx.sel)),
		zap.Bool("restored", restored))
	m.notifyLocked(HookPosContextReleased, ctx.info(), restored)
}

// Cancel removes the closure identified by t. It never fails; the result
// tells what state the target was left in.
func (m *Manager) Cancel(t *Token) CancelResult {
	if t == nil || t.manager == nil {
		return AlreadyInvalid
	}

	if t.manager != m {
		return t.manager.Cancel(t)
	}

	m.mu.Lock()
	defer m.unlockAndNotify()

	ctx := t.ctx

	var result CancelResult

	switch {
	case t.entry == nil:
		result = AlreadyInvalid
	case t.delegate != nil:
		result = m.cancelDelegateLocked(t)
	case t.wrapper != nil:
		result = m.cancelObjectLocked(t)
	default:
		result = m.cancelClassLocked(t)
	}

	info := ContextInfo{}
	if ctx != nil {
		info = ctx.info()
	}

	m.logger.Debug("hook canceled",
		zap.String("class", info.Class),
		zap.String("selector", info.Selector),
		zap.Stringer("mode", t.mode),
		zap.Stringer("result", result))
	m.notifyLocked(HookPosCanceled, info, result)

	return result
}

func (m *Manager) cancelClassLocked(t *Token) CancelResult {
	ctx, e := t.ctx, t.entry
	t.invalidate()

	if err := ctx.remove(e); err != nil {
		m.logger.Warn("closure already removed", zap.Error(err))
		return AlreadyInvalid
	}

	installed, err := ctx.stillInstalled()
	if err != nil {
		m.inconsistency(err)
		return NotRestored
	}

	if !installed {
		m.logger.Warn("dispatch entry replaced by another layer, keeping hook context",
			zap.String("id", ctx.id),
			zap.String("class", ctx.class.Name()),
			zap.String("selector", string(ctx.sel)))

		return NotRestored
	}

	if !ctx.isEmpty() {
		return NotRestored
	}

	if !ctx.restore() {
		m.logger.Warn("dispatch entry replaced by another layer while restoring, keeping hook context",
			zap.String("id", ctx.id),
			zap.String("class", ctx.class.Name()),
			zap.String("selector", string(ctx.sel)))

		return NotRestored
	}

	m.evictContextLocked(contextKey{class: ctx.class, sel: ctx.sel}, ctx, true)

	return Restored
}

func (m *Manager) cancelObjectLocked(t *Token) CancelResult {
	ctx, e, w := t.ctx, t.entry, t.wrapper
	t.invalidate()
	w.removeToken(t)

	if w.object.Value() == nil {
		m.unwrapLocked(w)
		return AlreadyInvalid
	}

	if err := ctx.remove(e); err != nil {
		m.logger.Warn("closure already removed", zap.Error(err))
		return AlreadyInvalid
	}

	if len(w.tokens) > 0 {
		if ctx.isEmpty() {
			installed, err := ctx.stillInstalled()
			if err != nil {
				m.inconsistency(err)
			} else if installed {
				m.releaseContextLocked(
					contextKey{class: ctx.class, sel: ctx.sel}, ctx)
			}
		}

		return NotRestored
	}

	if !m.unwrapLocked(w) {
		return NotRestored
	}

	return Restored
}

func (m *Manager) cancelDelegateLocked(t *Token) CancelResult {
	d := t.delegate
	obj := t.object.Value()
	t.invalidate()

	if obj == nil || !obj.RemoveDeallocDelegate(d) {
		return AlreadyInvalid
	}

	return Restored
}

func (m *Manager) inconsistency(err error) {
	if m.debug {
		log.Panicf("hook: %v", err)
	}

	m.logger.Error("hook bookkeeping is inconsistent", zap.Error(err))
}

func (m *Manager) notifyLocked(pos *hooking.HookPos, item, detail any) {
	if m.NumHooks() == 0 {
		return
	}

	m.pending = append(m.pending, hooking.HookCtx{
		Domain: m,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}

// unlockAndNotify releases the lock and then runs the hooks of the events
// raised while it was held.
func (m *Manager) unlockAndNotify() {
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, ctx := range pending {
		m.InvokeHook(ctx)
	}
}

// ClassContextCount returns the number of live contexts on real classes and
// metaclasses.
func (m *Manager) ClassContextCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.contexts {
		if !key.class.IsSynthetic() {
			n++
		}
	}

	return n
}

// ObjectContextCount returns the number of live contexts on synthetic
// subclasses, including the ones that clean up after an object's end of
// life.
func (m *Manager) ObjectContextCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.contexts {
		if key.class.IsSynthetic() {
			n++
		}
	}

	return n
}

// ContextCount returns the number of live contexts.
func (m *Manager) ContextCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.contexts)
}

// WrappedObjectCount returns the number of objects currently moved to a
// synthetic subclass.
func (m *Manager) WrappedObjectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.wrappers)
}

// Snapshot describes every live context, ordered by class and selector.
func (m *Manager) Snapshot() []ContextInfo {
	m.mu.Lock()
	infos := make([]ContextInfo, 0, len(m.contexts))
	for _, ctx := range m.contexts {
		infos = append(infos, ctx.info())
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Class != infos[j].Class {
			return infos[i].Class < infos[j].Class
		}

		return infos[i].Selector < infos[j].Selector
	})

	return infos
}

// Context returns the description of the live context with the given ID.
func (m *Manager) Context(id string) (ContextInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ctx := range m.contexts {
		if ctx.id == id {
			return ctx.info(), true
		}
	}

	return ContextInfo{}, false
}
