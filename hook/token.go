package hook

import (
	"weak"

	"github.com/sarchlab/interpose/objrt"
)

// A Token identifies one registered closure. It is the only way to cancel
// that registration.
type Token struct {
	manager *Manager
	mode    Mode

	// Guarded by manager.mu. Cleared once the token is cancelled.
	ctx      *hookContext
	entry    *entry
	wrapper  *instanceWrapper
	delegate *objrt.DeallocDelegate

	// Set for object hooks. The token never keeps the object alive.
	object weak.Pointer[objrt.Object]
}

// Mode returns the mode the closure was registered in.
func (t *Token) Mode() Mode {
	return t.mode
}

// Object returns the hooked object, or nil for class hooks and for objects
// that no longer exist.
func (t *Token) Object() *objrt.Object {
	return t.object.Value()
}

// IsValid tells whether the token can still be cancelled.
func (t *Token) IsValid() bool {
	t.manager.mu.Lock()
	defer t.manager.mu.Unlock()

	return t.entry != nil
}

// Cancel removes the closure. It is shorthand for Manager.Cancel.
func (t *Token) Cancel() CancelResult {
	return t.manager.Cancel(t)
}

func (t *Token) invalidate() {
	t.ctx = nil
	t.entry = nil
	t.wrapper = nil
	t.delegate = nil
}
