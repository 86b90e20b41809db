// Package objrt is a small object runtime with mutable per-class dispatch
// tables.
//
// A Class maps selectors to Methods. Every Method holds the Implementation
// that currently serves it, and the Implementation can be replaced at run
// time. Objects carry a class pointer that can be swapped for a synthetic
// subclass, which is how a single object can get behavior its siblings do not
// see. Objects are reference counted; releasing the last reference tears the
// object down, dispatching Dealloc for managed kinds and running the dealloc
// delegates for every kind.
//
//	calc := objrt.NewRootClass("Calculator", objrt.KindManaged)
//	calc.MustAddMethod("sum", func(self *objrt.Object, a, b int) int {
//		return a + b
//	})
//
//	obj := objrt.New(calc)
//	out, err := objrt.Send(obj, "sum", 1, 2) // out[0] == 3
package objrt
