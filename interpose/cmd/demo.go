package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sarchlab/interpose/hook"
	"github.com/sarchlab/interpose/objrt"
)

type scenario struct {
	name string
	run  func(w io.Writer, b hook.Builder) error
}

var scenarios = []scenario{
	{"class-before", demoClassBefore},
	{"object-after", demoObjectAfter},
	{"instead", demoInstead},
	{"dealloc", demoDealloc},
	{"layering", demoLayering},
}

var demoCmd = &cobra.Command{
	Use:   "demo [scenario...]",
	Short: "Run interception scenarios on a sample Calculator class.",
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")

		b := hook.MakeBuilder().
			WithLogger(logger).
			WithDebug(debug)

		return runDemo(cmd.OutOrStdout(), b, args)
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

// runDemo runs the named scenarios, or all of them if names is empty.
func runDemo(w io.Writer, b hook.Builder, names []string) error {
	selected, err := selectScenarios(names)
	if err != nil {
		return err
	}

	for _, s := range selected {
		fmt.Fprintf(w, "== %s\n", s.name)

		if err := s.run(w, b); err != nil {
			return fmt.Errorf("scenario %s: %w", s.name, err)
		}
	}

	return nil
}

func selectScenarios(names []string) ([]scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}

	selected := make([]scenario, 0, len(names))

	for _, name := range names {
		found := false

		for _, s := range scenarios {
			if s.name == name {
				selected = append(selected, s)
				found = true

				break
			}
		}

		if !found {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
	}

	return selected, nil
}

func demoClassBefore(w io.Writer, b hook.Builder) error {
	m := b.Build()
	calc := newCalculatorClass()
	obj := objrt.New(calc)

	token, err := m.HookClass(calc, "sum", hook.Before, func(a, b int) {
		fmt.Fprintf(w, "before sum(%d, %d)\n", a, b)
	})
	if err != nil {
		return err
	}

	result, err := sendSum(obj, 77, 88)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "sum = %d\n", result)
	fmt.Fprintf(w, "cancel: %s\n", token.Cancel())
	fmt.Fprintf(w, "cancel again: %s\n", token.Cancel())

	return nil
}

func demoObjectAfter(w io.Writer, b hook.Builder) error {
	m := b.Build()
	calc := newCalculatorClass()
	x := objrt.New(calc)
	y := objrt.New(calc)

	token, err := m.HookObject(x, "execute", hook.After, func() {
		fmt.Fprintln(w, "after execute on x")
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "x class: %s\n", x.Class().Name())

	if err := sendExecute(x, func() { fmt.Fprintln(w, "execute x") }); err != nil {
		return err
	}

	if err := sendExecute(y, func() { fmt.Fprintln(w, "execute y") }); err != nil {
		return err
	}

	fmt.Fprintf(w, "cancel: %s\n", token.Cancel())
	fmt.Fprintf(w, "x class: %s\n", x.Class().Name())

	return nil
}

func demoInstead(w io.Writer, b hook.Builder) error {
	m := b.Build()
	calc := newCalculatorClass()
	x := objrt.New(calc)

	token, err := m.HookObject(x, "sum", hook.Instead,
		func(original func(int, int) int, a, b int) int {
			return original(a, b) * 2
		})
	if err != nil {
		return err
	}

	_, err = m.HookObject(x, "sum", hook.Instead,
		func(original func(int, int) int, a, b int) int { return 0 })
	fmt.Fprintf(w, "second instead: %v\n", err)

	result, err := sendSum(x, 1, 2)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "sum = %d\n", result)
	fmt.Fprintf(w, "cancel: %s\n", token.Cancel())

	result, err = sendSum(x, 1, 2)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "sum = %d\n", result)

	return nil
}

func demoDealloc(w io.Writer, b hook.Builder) error {
	m := b.Build()
	calc := newCalculatorClass()
	x := objrt.New(calc)

	token, err := m.HookObject(x, objrt.Dealloc, hook.After, func() {
		fmt.Fprintf(w, "after dealloc, torn down: %t\n", x.IsTornDown())
	})
	if err != nil {
		return err
	}

	x.Release()

	fmt.Fprintf(w, "token valid: %t\n", token.IsValid())
	fmt.Fprintf(w, "cancel: %s\n", token.Cancel())
	fmt.Fprintf(w, "wrapped objects: %d\n", m.WrappedObjectCount())

	return nil
}

func demoLayering(w io.Writer, b hook.Builder) error {
	bottom := b.Build()
	top := b.Build()
	calc := newCalculatorClass()
	x := objrt.New(calc)

	bottomToken, err := bottom.HookObject(x, "sum", hook.Before, func() {
		fmt.Fprintln(w, "bottom before sum")
	})
	if err != nil {
		return err
	}

	topToken, err := top.HookObject(x, "sum", hook.Before, func() {
		fmt.Fprintln(w, "top before sum")
	})
	if err != nil {
		return err
	}

	if _, err := sendSum(x, 1, 1); err != nil {
		return err
	}

	fmt.Fprintf(w, "cancel bottom: %s\n", bottomToken.Cancel())
	fmt.Fprintf(w, "cancel top: %s\n", topToken.Cancel())

	if _, err := sendSum(x, 1, 1); err != nil {
		return err
	}

	x.Release()

	fmt.Fprintf(w, "wrapped objects: %d\n", bottom.WrappedObjectCount())

	return nil
}
