package hook

import "errors"

var (
	// ErrNoSuchOperation means the target does not respond to the selector.
	ErrNoSuchOperation = errors.New("no such operation")

	// ErrSignatureMismatch means the closure does not fit the method and the
	// mode.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrUnsupported means the combination of target, selector and mode can
	// never be hooked.
	ErrUnsupported = errors.New("unsupported")

	// ErrDuplicateInstead means an instead closure is already active on the
	// target.
	ErrDuplicateInstead = errors.New("duplicate instead hook")

	// ErrNotFound means a closure is not registered where it was expected.
	ErrNotFound = errors.New("not found")

	// ErrInternalInconsistency means the engine found its own bookkeeping
	// broken.
	ErrInternalInconsistency = errors.New("internal inconsistency")
)
