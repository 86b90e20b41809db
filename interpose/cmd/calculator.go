package cmd

import (
	"fmt"

	"github.com/sarchlab/interpose/objrt"
)

// newCalculatorClass builds the sample class the commands hook into.
func newCalculatorClass() *objrt.Class {
	calc := objrt.NewRootClass("Calculator", objrt.KindManaged)
	calc.MustAddMethod("sum", func(_ *objrt.Object, a, b int) int {
		return a + b
	})
	calc.MustAddMethod("execute", func(_ *objrt.Object, fn func()) {
		fn()
	})

	return calc
}

func sendSum(obj *objrt.Object, a, b int) (int, error) {
	out, err := objrt.Send(obj, "sum", a, b)
	if err != nil {
		return 0, fmt.Errorf("cannot send sum: %w", err)
	}

	return out[0].(int), nil
}

func sendExecute(obj *objrt.Object, fn func()) error {
	if _, err := objrt.Send(obj, "execute", fn); err != nil {
		return fmt.Errorf("cannot send execute: %w", err)
	}

	return nil
}
