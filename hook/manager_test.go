package hook_test

import (
	"errors"
	"reflect"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/interpose/hook"
	"github.com/sarchlab/interpose/instrumentation/hooking"
	"github.com/sarchlab/interpose/objrt"
)

var _ = Describe("Manager", func() {
	var (
		rec  *calls
		calc *objrt.Class
		obj  *objrt.Object
		m    *hook.Manager
	)

	BeforeEach(func() {
		rec = &calls{}
		calc = newCalculatorClass(rec)
		obj = objrt.New(calc)
		m = newTestManager()
	})

	Context("when hooking a class", func() {
		It("should run a before closure with the call arguments", func() {
			count := 0
			_, err := m.HookClass(calc, "sum", hook.Before, func(a, b int) {
				Expect(a).To(Equal(77))
				Expect(b).To(Equal(88))
				Expect(rec.names).To(BeEmpty())
				count++
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sum(obj, 77, 88)).To(Equal(165))
			Expect(count).To(Equal(1))
		})

		It("should run closures in registration order around the call", func() {
			for _, name := range []string{"b1", "b2", "b3"} {
				_, err := m.HookClass(calc, "sum", hook.Before, func() { rec.add(name) })
				Expect(err).NotTo(HaveOccurred())
			}

			for _, name := range []string{"a1", "a2"} {
				_, err := m.HookClass(calc, "sum", hook.After, func() { rec.add(name) })
				Expect(err).NotTo(HaveOccurred())
			}

			sum(obj, 1, 2)

			Expect(rec.names).To(Equal(
				[]string{"b1", "b2", "b3", "sum", "a1", "a2"}))
		})

		It("should hand the results to after closures", func() {
			var seen []int
			_, err := m.HookClass(calc, "sum", hook.After, func(a, b, r int) {
				seen = []int{a, b, r}
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sum(obj, 2, 3)).To(Equal(5))
			Expect(seen).To(Equal([]int{2, 3, 5}))
		})

		It("should let an instead closure call the original many times", func() {
			_, err := m.HookClass(calc, "sum", hook.Instead,
				func(original func(int, int) int, a, b int) int {
					return original(a, b) + original(a, 0)
				})
			Expect(err).NotTo(HaveOccurred())

			Expect(sum(obj, 2, 3)).To(Equal(7))
			Expect(rec.names).To(Equal([]string{"sum", "sum"}))
		})

		It("should let an instead closure skip the original", func() {
			_, err := m.HookClass(calc, "sum", hook.Instead,
				func(_ func(int, int) int, a, b int) int {
					return a * b
				})
			Expect(err).NotTo(HaveOccurred())

			Expect(sum(obj, 2, 3)).To(Equal(6))
			Expect(rec.names).To(BeEmpty())
		})

		It("should run after closures on the instead result", func() {
			var result int
			_, err := m.HookClass(calc, "sum", hook.Instead,
				func(_ func(int, int) int, a, b int) int { return a - b })
			Expect(err).NotTo(HaveOccurred())
			_, err = m.HookClass(calc, "sum", hook.After, func(_, _, r int) {
				result = r
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sum(obj, 5, 3)).To(Equal(2))
			Expect(result).To(Equal(2))
		})

		It("should affect every instance", func() {
			count := 0
			_, err := m.HookClass(calc, "sum", hook.Before, func() { count++ })
			Expect(err).NotTo(HaveOccurred())

			sum(obj, 1, 1)
			sum(objrt.New(calc), 1, 1)

			Expect(count).To(Equal(2))
		})

		It("should reuse the context of a class and selector", func() {
			_, err := m.HookClass(calc, "sum", hook.Before, func() {})
			Expect(err).NotTo(HaveOccurred())
			_, err = m.HookClass(calc, "sum", hook.After, func() {})
			Expect(err).NotTo(HaveOccurred())

			Expect(m.ContextCount()).To(Equal(1))
			Expect(m.ClassContextCount()).To(Equal(1))
			Expect(m.ObjectContextCount()).To(Equal(0))

			infos := m.Snapshot()
			Expect(infos).To(HaveLen(1))
			Expect(infos[0].Class).To(Equal("Calculator"))
			Expect(infos[0].Selector).To(Equal("sum"))
			Expect(infos[0].Before).To(Equal(1))
			Expect(infos[0].After).To(Equal(1))

			info, found := m.Context(infos[0].ID)
			Expect(found).To(BeTrue())
			Expect(info).To(Equal(infos[0]))
		})
	})

	Context("when validating a registration", func() {
		It("should reject unknown selectors", func() {
			_, err := m.HookClass(calc, "divide", hook.Before, func() {})
			Expect(errors.Is(err, hook.ErrNoSuchOperation)).To(BeTrue())
		})

		It("should reject closures of the wrong shape", func() {
			_, err := m.HookClass(calc, "sum", hook.Before, func(a string) {})
			Expect(errors.Is(err, hook.ErrSignatureMismatch)).To(BeTrue())

			_, err = m.HookClass(calc, "sum", hook.Instead, func(a, b int) int {
				return 0
			})
			Expect(errors.Is(err, hook.ErrSignatureMismatch)).To(BeTrue())

			_, err = m.HookClass(calc, "sum", hook.Before, func(a, b int) int {
				return 0
			})
			Expect(errors.Is(err, hook.ErrSignatureMismatch)).To(BeTrue())
		})

		It("should reject unknown modes", func() {
			_, err := m.HookClass(calc, "sum", hook.Mode(7), func() {})
			Expect(errors.Is(err, hook.ErrUnsupported)).To(BeTrue())
		})

		It("should reject replacing dealloc", func() {
			_, err := m.HookClass(calc, objrt.Dealloc, hook.Instead,
				func(original func()) { original() })
			Expect(errors.Is(err, hook.ErrUnsupported)).To(BeTrue())
		})

		It("should reject dealloc on plain classes", func() {
			point := objrt.NewRootClass("Point", objrt.KindPlain)

			_, err := m.HookClass(point, objrt.Dealloc, hook.After, func() {})
			Expect(errors.Is(err, hook.ErrUnsupported)).To(BeTrue())
		})

		It("should reject nil classes", func() {
			_, err := m.HookClass(nil, "sum", hook.Before, func() {})
			Expect(errors.Is(err, hook.ErrUnsupported)).To(BeTrue())
		})

		It("should not change anything when validation fails", func() {
			imp := calc.OwnMethod("sum").Implementation()

			_, err := m.HookClass(calc, "sum", hook.After, func(a int) {})
			Expect(err).To(HaveOccurred())

			Expect(m.ContextCount()).To(Equal(0))
			Expect(calc.OwnMethod("sum").Implementation()).To(BeIdenticalTo(imp))
		})

		It("should ask the checker with the method shape", func() {
			ctrl := gomock.NewController(GinkgoT())
			checker := NewMockChecker(ctrl)
			m = hook.MakeBuilder().WithChecker(checker).Build()

			rejected := errors.New("rejected")
			closure := func() {}
			checker.EXPECT().
				CanApply(gomock.Any(), reflect.TypeOf(func(int, int) int { return 0 }), hook.After).
				Return(rejected)

			_, err := m.HookClass(calc, "sum", hook.After, closure)

			Expect(errors.Is(err, rejected)).To(BeTrue())
			Expect(m.ContextCount()).To(Equal(0))
		})

		It("should accept what the checker accepts", func() {
			ctrl := gomock.NewController(GinkgoT())
			checker := NewMockChecker(ctrl)
			m = hook.MakeBuilder().WithChecker(checker).Build()

			checker.EXPECT().
				CanApply(gomock.Any(), gomock.Any(), hook.Before).
				Return(nil)

			token, err := m.HookClass(calc, "sum", hook.Before, func() {})

			Expect(err).NotTo(HaveOccurred())
			Expect(token.Mode()).To(Equal(hook.Before))
		})
	})

	Context("when cancelling a class hook", func() {
		It("should restore the original implementation", func() {
			imp := calc.OwnMethod("sum").Implementation()

			var tokens []*hook.Token
			for _, mode := range []hook.Mode{hook.Before, hook.After, hook.Before} {
				token, err := m.HookClass(calc, "sum", mode, func() {
					rec.add("hook")
				})
				Expect(err).NotTo(HaveOccurred())
				tokens = append(tokens, token)
			}

			Expect(tokens[1].Cancel()).To(Equal(hook.NotRestored))
			Expect(tokens[0].Cancel()).To(Equal(hook.NotRestored))
			Expect(tokens[2].Cancel()).To(Equal(hook.Restored))

			Expect(m.ContextCount()).To(Equal(0))
			Expect(calc.OwnMethod("sum").Implementation()).To(BeIdenticalTo(imp))

			rec.reset()
			Expect(sum(obj, 77, 88)).To(Equal(165))
			Expect(rec.names).To(Equal([]string{"sum"}))
		})

		It("should keep the order of the remaining closures", func() {
			var tokens []*hook.Token
			for _, name := range []string{"b1", "b2", "b3"} {
				token, err := m.HookClass(calc, "sum", hook.Before, func() {
					rec.add(name)
				})
				Expect(err).NotTo(HaveOccurred())
				tokens = append(tokens, token)
			}

			tokens[1].Cancel()
			sum(obj, 1, 2)

			Expect(rec.names).To(Equal([]string{"b1", "b3", "sum"}))
		})

		It("should report a second cancel as already invalid", func() {
			token, err := m.HookClass(calc, "sum", hook.Before, func() {})
			Expect(err).NotTo(HaveOccurred())
			_, err = m.HookClass(calc, "sum", hook.After, func() {})
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Cancel(token)).To(Equal(hook.NotRestored))
			Expect(token.IsValid()).To(BeFalse())
			Expect(m.Cancel(token)).To(Equal(hook.AlreadyInvalid))
			Expect(hook.Cancel(token)).To(Equal(hook.AlreadyInvalid))

			Expect(m.ContextCount()).To(Equal(1))
			Expect(m.Snapshot()[0].After).To(Equal(1))
		})

		It("should treat a nil token as already invalid", func() {
			Expect(m.Cancel(nil)).To(Equal(hook.AlreadyInvalid))
			Expect(m.Cancel(&hook.Token{})).To(Equal(hook.AlreadyInvalid))
		})

		It("should allow a new instead closure after the first is gone", func() {
			first, err := m.HookClass(calc, "sum", hook.Instead,
				func(_ func(int, int) int, a, b int) int { return 1 })
			Expect(err).NotTo(HaveOccurred())

			_, err = m.HookClass(calc, "sum", hook.Instead,
				func(_ func(int, int) int, a, b int) int { return 2 })
			Expect(errors.Is(err, hook.ErrDuplicateInstead)).To(BeTrue())
			Expect(sum(obj, 0, 0)).To(Equal(1))

			Expect(first.Cancel()).To(Equal(hook.Restored))

			_, err = m.HookClass(calc, "sum", hook.Instead,
				func(_ func(int, int) int, a, b int) int { return 2 })
			Expect(err).NotTo(HaveOccurred())
			Expect(sum(obj, 0, 0)).To(Equal(2))
		})

		It("should let a closure cancel its own token", func() {
			var token *hook.Token
			count := 0

			token, err := m.HookClass(calc, "sum", hook.Before, func() {
				count++
				Expect(token.Cancel()).To(Equal(hook.Restored))
			})
			Expect(err).NotTo(HaveOccurred())

			sum(obj, 1, 2)
			sum(obj, 1, 2)

			Expect(count).To(Equal(1))
			Expect(m.ContextCount()).To(Equal(0))
		})
	})

	Context("when another layer sits on top", func() {
		var other *hook.Manager

		BeforeEach(func() {
			other = newTestManager()
		})

		It("should not restore under the newer layer", func() {
			imp := calc.OwnMethod("sum").Implementation()

			bottom, err := m.HookClass(calc, "sum", hook.Before, func() {
				rec.add("bottom")
			})
			Expect(err).NotTo(HaveOccurred())
			top, err := other.HookClass(calc, "sum", hook.Before, func() {
				rec.add("top")
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(bottom.Cancel()).To(Equal(hook.NotRestored))
			Expect(m.ContextCount()).To(Equal(1))

			Expect(sum(obj, 77, 88)).To(Equal(165))
			Expect(rec.names).To(Equal([]string{"top", "sum"}))

			Expect(top.Cancel()).To(Equal(hook.Restored))
			Expect(other.ContextCount()).To(Equal(0))

			rec.reset()
			Expect(sum(obj, 77, 88)).To(Equal(165))
			Expect(rec.names).To(Equal([]string{"sum"}))
			Expect(calc.OwnMethod("sum").Implementation()).
				NotTo(BeIdenticalTo(imp))
		})

		It("should restore when the newer layer goes first", func() {
			imp := calc.OwnMethod("sum").Implementation()

			bottom, err := m.HookClass(calc, "sum", hook.Before, func() {})
			Expect(err).NotTo(HaveOccurred())
			top, err := other.HookClass(calc, "sum", hook.Before, func() {})
			Expect(err).NotTo(HaveOccurred())

			Expect(top.Cancel()).To(Equal(hook.Restored))
			Expect(bottom.Cancel()).To(Equal(hook.Restored))
			Expect(calc.OwnMethod("sum").Implementation()).To(BeIdenticalTo(imp))
		})
	})

	Context("when the selector is inherited", func() {
		var (
			sci    *objrt.Class
			sciObj *objrt.Object
		)

		BeforeEach(func() {
			sci = objrt.NewClass("ScientificCalculator", calc)
			sciObj = objrt.New(sci)
		})

		It("should override in the subclass only", func() {
			imp := calc.OwnMethod("sum").Implementation()
			count := 0

			token, err := m.HookClass(sci, "sum", hook.Before, func() { count++ })
			Expect(err).NotTo(HaveOccurred())

			Expect(sum(sciObj, 1, 2)).To(Equal(3))
			Expect(sum(obj, 1, 2)).To(Equal(3))
			Expect(count).To(Equal(1))
			Expect(calc.OwnMethod("sum").Implementation()).To(BeIdenticalTo(imp))

			Expect(token.Cancel()).To(Equal(hook.Restored))
			Expect(sum(sciObj, 1, 2)).To(Equal(3))
			Expect(count).To(Equal(1))
		})

		It("should let subclasses see hooks of the superclass", func() {
			count := 0
			_, err := m.HookClass(calc, "sum", hook.Before, func() { count++ })
			Expect(err).NotTo(HaveOccurred())

			sum(sciObj, 1, 2)

			Expect(count).To(Equal(1))
		})
	})

	Context("when hooking class methods", func() {
		BeforeEach(func() {
			Expect(calc.AddClassMethod("identity", func(_ *objrt.Object, n int) int {
				return n
			})).To(Succeed())
		})

		It("should hook the metaclass", func() {
			token, err := m.HookClass(calc.Meta(), "identity", hook.Instead,
				func(original func(int) int, n int) int {
					return original(n) * 10
				})
			Expect(err).NotTo(HaveOccurred())

			out, err := objrt.SendClass(calc, "identity", 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]any{40}))
			Expect(m.Snapshot()[0].Meta).To(BeTrue())

			Expect(token.Cancel()).To(Equal(hook.Restored))

			out, err = objrt.SendClass(calc, "identity", 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]any{4}))
		})
	})

	Context("when observed", func() {
		var (
			positions []*hooking.HookPos
			details   []any
		)

		BeforeEach(func() {
			positions = nil
			details = nil
			m.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				Expect(ctx.Domain).To(BeIdenticalTo(m))
				positions = append(positions, ctx.Pos)
				details = append(details, ctx.Detail)
			}))
		})

		It("should report class hooks and cancellation in order", func() {
			token, err := m.HookClass(calc, "sum", hook.After, func() {})
			Expect(err).NotTo(HaveOccurred())
			token.Cancel()

			Expect(positions).To(Equal([]*hooking.HookPos{
				hook.HookPosContextCreated,
				hook.HookPosHooked,
				hook.HookPosContextReleased,
				hook.HookPosCanceled,
			}))
			Expect(details).To(Equal([]any{nil, hook.After, true, hook.Restored}))
		})

		It("should let observers use the Manager", func() {
			m.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				if ctx.Pos == hook.HookPosHooked {
					Expect(m.ContextCount()).To(Equal(1))
				}
			}))

			_, err := m.HookClass(calc, "sum", hook.After, func() {})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should report object wrapping", func() {
			token, err := m.HookObject(obj, "sum", hook.Before, func() {})
			Expect(err).NotTo(HaveOccurred())
			token.Cancel()

			Expect(positions).To(ContainElement(hook.HookPosWrapped))
			Expect(positions).To(ContainElement(hook.HookPosUnwrapped))
			Expect(positions[len(positions)-1]).To(Equal(hook.HookPosCanceled))
		})
	})

	Context("with the process-wide Manager", func() {
		It("should hook and cancel", func() {
			count := 0
			token, err := hook.HookClass(calc, "sum", hook.Before, func() { count++ })
			Expect(err).NotTo(HaveOccurred())

			sum(obj, 1, 2)
			Expect(hook.Cancel(token)).To(Equal(hook.Restored))
			sum(obj, 1, 2)

			Expect(count).To(Equal(1))
			Expect(hook.Default().ContextCount()).To(Equal(0))
		})
	})
})
