// Package hooking lets observers follow what an interception engine does.
//
// The engine is a Hookable domain. It raises a HookCtx at well-known
// positions (a context is created, a closure is registered, a token is
// cancelled, ...) and every Hook that was accepted sees it. Hooks observe;
// they cannot change the outcome of the operation that raised them.
package hooking

import "sync"

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

func (p *HookPos) String() string {
	return p.Name
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	// Domain is the hookable object that is raising this hook.
	Domain Hookable

	// Pos identifies where the hook is firing from.
	Pos *HookPos

	// Item carries the primary subject associated with the hook.
	Item any

	// Detail holds optional auxiliary data; hook sites may leave it nil.
	Detail any
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// RemoveHook unregisters a hook. It returns false if the hook was not
	// registered.
	RemoveHook(hook Hook) bool

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// InvokeHook triggers the registered Hooks.
	InvokeHook(ctx HookCtx)
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

type funcHook struct {
	f func(ctx HookCtx)
}

func (h *funcHook) Func(ctx HookCtx) {
	h.f(ctx)
}

// HookFunc wraps a plain function as a Hook. Every call returns a distinct
// hook, so the result can be removed later.
func HookFunc(f func(ctx HookCtx)) Hook {
	return &funcHook{f: f}
}

// A HookableBase provides some utility function for other type that implement
// the Hookable interface. It is safe for concurrent use; hooks added or
// removed while an invocation is running take effect on the next invocation.
type HookableBase struct {
	mu       sync.RWMutex
	hookList []Hook
}

// NewHookableBase creates a HookableBase object.
func NewHookableBase() *HookableBase {
	return &HookableBase{}
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.hookList)
}

// AcceptHook register a hook. Registering the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.mustNotHaveDuplicatedHook(hook)
	h.hookList = append(h.hookList, hook)
}

func (h *HookableBase) mustNotHaveDuplicatedHook(hook Hook) {
	for _, registered := range h.hookList {
		if registered == hook {
			panic("duplicated hook")
		}
	}
}

// RemoveHook unregisters a hook.
func (h *HookableBase) RemoveHook(hook Hook) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, registered := range h.hookList {
		if registered == hook {
			h.hookList = append(h.hookList[:i:i], h.hookList[i+1:]...)
			return true
		}
	}

	return false
}

// InvokeHook triggers the register Hooks in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	h.mu.RLock()
	hooks := h.hookList
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.Func(ctx)
	}
}

var _ Hookable = (*HookableBase)(nil)
