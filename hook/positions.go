package hook

import "github.com/sarchlab/interpose/instrumentation/hooking"

// Hook positions raised by a Manager. Hooks run after the Manager has
// released its lock, in the order the events happened.
var (
	// HookPosContextCreated fires when a dispatch entry is taken over. Item
	// is a ContextInfo.
	HookPosContextCreated = &hooking.HookPos{Name: "ContextCreated"}

	// HookPosContextReleased fires when a context is evicted. Item is a
	// ContextInfo; Detail is true if the original implementation was put
	// back.
	HookPosContextReleased = &hooking.HookPos{Name: "ContextReleased"}

	// HookPosHooked fires when a closure is registered. Item is a
	// ContextInfo; Detail is the Mode.
	HookPosHooked = &hooking.HookPos{Name: "Hooked"}

	// HookPosCanceled fires when a token is cancelled. Item is a
	// ContextInfo (empty for already invalid tokens); Detail is the
	// CancelResult.
	HookPosCanceled = &hooking.HookPos{Name: "Canceled"}

	// HookPosWrapped fires when an object moves to a synthetic subclass.
	// Item is a WrapInfo.
	HookPosWrapped = &hooking.HookPos{Name: "Wrapped"}

	// HookPosUnwrapped fires when an object moves back to its real class.
	// Item is a WrapInfo.
	HookPosUnwrapped = &hooking.HookPos{Name: "Unwrapped"}
)

// WrapInfo describes an object wrapping.
type WrapInfo struct {
	Class     string
	Synthetic string
}
