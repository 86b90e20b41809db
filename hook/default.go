package hook

import (
	"sync"

	"github.com/sarchlab/interpose/objrt"
)

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the process-wide Manager.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = MakeBuilder().Build()
	})

	return defaultManager
}

// HookClass registers closure with the process-wide Manager.
func HookClass(
	cls *objrt.Class,
	sel objrt.Selector,
	mode Mode,
	closure any,
) (*Token, error) {
	return Default().HookClass(cls, sel, mode, closure)
}

// HookObject registers closure with the process-wide Manager.
func HookObject(
	obj *objrt.Object,
	sel objrt.Selector,
	mode Mode,
	closure any,
) (*Token, error) {
	return Default().HookObject(obj, sel, mode, closure)
}

// Cancel cancels t. It is the same as t.Cancel().
func Cancel(t *Token) CancelResult {
	if t == nil {
		return AlreadyInvalid
	}

	return t.Cancel()
}
