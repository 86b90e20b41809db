package hook

import (
	"fmt"

	"github.com/sarchlab/interpose/signature"
)

// Mode tells when a closure runs relative to the original implementation.
type Mode int

// Enumeration of hook modes.
const (
	Before Mode = iota
	After
	Instead
)

func (m Mode) String() string {
	switch m {
	case Before:
		return "before"
	case After:
		return "after"
	case Instead:
		return "instead"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) valid() bool {
	return m == Before || m == After || m == Instead
}

func (m Mode) role() signature.Role {
	switch m {
	case After:
		return signature.ObserveResult
	case Instead:
		return signature.Replace
	default:
		return signature.Observe
	}
}

// CancelResult is the outcome of cancelling a token.
type CancelResult int

const (
	// Restored means nothing is left of the hooks on the target: the original
	// implementation is back in the dispatch table, or the object is back on
	// its real class.
	Restored CancelResult = iota

	// NotRestored means the closure was removed but other hooks remain, or a
	// newer layer sits on top of the dispatch entry and the original could
	// not be put back.
	NotRestored

	// AlreadyInvalid means the token had already been cancelled, or its
	// target is gone.
	AlreadyInvalid
)

func (r CancelResult) String() string {
	switch r {
	case Restored:
		return "restored"
	case NotRestored:
		return "not-restored"
	case AlreadyInvalid:
		return "already-invalid"
	default:
		return fmt.Sprintf("CancelResult(%d)", int(r))
	}
}
