package hook_test

import (
	"github.com/sarchlab/interpose/hook"
	"github.com/sarchlab/interpose/idgen"
	"github.com/sarchlab/interpose/objrt"
)

// calls records what ran, in order.
type calls struct {
	names []string
}

func (c *calls) add(name string) {
	c.names = append(c.names, name)
}

func (c *calls) reset() {
	c.names = nil
}

func newCalculatorClass(rec *calls) *objrt.Class {
	cls := objrt.NewRootClass("Calculator", objrt.KindManaged)
	cls.MustAddMethod("sum", func(_ *objrt.Object, a, b int) int {
		rec.add("sum")
		return a + b
	})
	cls.MustAddMethod("execute", func(_ *objrt.Object, fn func()) {
		rec.add("execute")
		fn()
	})

	return cls
}

func newTestManager() *hook.Manager {
	return hook.MakeBuilder().
		WithDebug(true).
		WithIDGenerator(idgen.NewSequential()).
		Build()
}

func sum(obj *objrt.Object, a, b int) int {
	out, err := objrt.Send(obj, "sum", a, b)
	if err != nil {
		panic(err)
	}

	return out[0].(int)
}

func execute(obj *objrt.Object) {
	if _, err := objrt.Send(obj, "execute", func() {}); err != nil {
		panic(err)
	}
}
