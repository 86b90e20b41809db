package hook

import (
	"fmt"
	"reflect"

	"github.com/sarchlab/interpose/signature"
)

//go:generate mockgen -destination "mock_hook_test.go" -package hook_test -write_package_comment=false github.com/sarchlab/interpose/hook Checker

// A Checker decides whether a closure can be applied to a method in a mode.
// shape is the method's func type without the receiver.
type Checker interface {
	CanApply(closure any, shape reflect.Type, mode Mode) error
}

// NewSignatureChecker returns the Checker used by default. It matches closure
// parameters and results against the method shape exactly.
func NewSignatureChecker() Checker {
	return signatureChecker{}
}

type signatureChecker struct{}

func (signatureChecker) CanApply(
	closure any,
	shape reflect.Type,
	mode Mode,
) error {
	if err := signature.Check(closure, shape, mode.role()); err != nil {
		return fmt.Errorf("%w: %s closure: %w", ErrSignatureMismatch, mode, err)
	}

	return nil
}
