// Package hook intercepts methods of objrt classes and objects.
//
// A closure can run before, after, or instead of a method. Class hooks affect
// every instance of the class (and of subclasses that inherit the method).
// Object hooks affect a single object: the object is moved to a synthetic
// subclass that only it uses, and moved back once its last hook is
// cancelled.
//
//	token, err := hook.HookClass(calculator, "sum", hook.Before,
//		func(a, b int) { log.Printf("sum(%d, %d)", a, b) })
//	if err != nil {
//		return err
//	}
//	defer token.Cancel()
//
// Closures registered in the same mode run in registration order. An instead
// closure receives the original implementation as its first argument and may
// call it any number of times; at most one instead closure can be active per
// class and selector.
//
// Cancelling restores the original implementation when the last closure of a
// class and selector goes away, unless something else has replaced the
// dispatch entry in the meantime. In that case the hook context is kept alive
// so the newer layer keeps working, and Cancel reports NotRestored.
package hook
