package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"github.com/sarchlab/interpose/datarecording"
	"github.com/sarchlab/interpose/hook"
	"github.com/sarchlab/interpose/monitoring"
	"github.com/sarchlab/interpose/objrt"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run a hooking workload and serve its state over HTTP.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		debug, _ := flags.GetBool("debug")
		port, _ := flags.GetInt("port")
		record, _ := flags.GetString("record")
		clickHouseAddr, _ := flags.GetString("clickhouse")
		openBrowser, _ := flags.GetBool("open-browser")
		rounds, _ := flags.GetUint64("rounds")
		duration, _ := flags.GetDuration("duration")

		manager := hook.MakeBuilder().
			WithLogger(logger).
			WithDebug(debug).
			Build()

		if _, err := attachRecorder(manager, record, clickHouseAddr); err != nil {
			return err
		}

		monitor := monitoring.NewMonitor().WithPortNumber(port)
		monitor.RegisterManager("default", manager)

		url := monitor.StartServer()
		if openBrowser {
			if err := monitor.OpenInBrowser(url); err != nil {
				logger.Warn("cannot open browser", zap.Error(err))
			}
		}

		atexit.Register(func() {
			logger.Info("manager state at exit",
				zap.Int("class_contexts", manager.ClassContextCount()),
				zap.Int("object_contexts", manager.ObjectContextCount()),
				zap.Int("wrapped_objects", manager.WrappedObjectCount()))
		})

		ctx, stop := signal.NotifyContext(cmd.Context(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		bar := monitor.CreateProgressBar("workload", rounds)
		if err := runWorkload(ctx, manager, bar, rounds); err != nil {
			return err
		}
		monitor.CompleteProgressBar(bar)

		logger.Info("workload done, serving until interrupted",
			zap.String("url", url))

		<-ctx.Done()

		return nil
	},
}

func init() {
	monitorCmd.Flags().Int("port", 0,
		"The port of the monitoring server. 0 picks a random port.")
	monitorCmd.Flags().String("record", "",
		"The SQLite file to record manager events into, without the "+
			".sqlite3 suffix.")
	monitorCmd.Flags().String("clickhouse", "",
		"The address of a ClickHouse server to record manager events into.")
	monitorCmd.Flags().Bool("open-browser", false,
		"Open the monitoring page in the default browser.")
	monitorCmd.Flags().Uint64("rounds", 1000,
		"The number of hook and cancel rounds to run.")
	monitorCmd.Flags().Duration("duration", 0,
		"How long to serve after the workload. 0 serves until interrupted.")

	rootCmd.AddCommand(monitorCmd)
}

// attachRecorder makes the manager record its events into SQLite, ClickHouse
// or both. The SQLite file is path with a .sqlite3 suffix.
func attachRecorder(
	manager *hook.Manager,
	path, clickHouseAddr string,
) ([]datarecording.DataRecorder, error) {
	var recorders []datarecording.DataRecorder

	if path != "" {
		recorders = append(recorders, datarecording.New(path))
	}

	if clickHouseAddr != "" {
		r, err := datarecording.NewClickHouseRecorder(
			datarecording.ClickHouseConfig{Addr: clickHouseAddr})
		if err != nil {
			return nil, fmt.Errorf("cannot connect to ClickHouse: %w", err)
		}

		recorders = append(recorders, r)
	}

	for _, r := range recorders {
		exec := datarecording.NewExecRecorder(r)
		exec.Start()

		manager.AcceptHook(datarecording.NewEventRecorder(r))

		atexit.Register(func() {
			exec.End()

			if err := r.Close(); err != nil {
				logger.Error("cannot close recorder", zap.Error(err))
			}
		})
	}

	return recorders, nil
}

// runWorkload hooks, calls and cancels on fresh Calculator objects, one
// object per round.
func runWorkload(
	ctx context.Context,
	manager *hook.Manager,
	bar *monitoring.ProgressBar,
	rounds uint64,
) error {
	calc := newCalculatorClass()

	classToken, err := manager.HookClass(calc, "execute", hook.After,
		func(fn func()) {})
	if err != nil {
		return err
	}
	defer classToken.Cancel()

	for i := uint64(0); i < rounds; i++ {
		if ctx.Err() != nil {
			return nil
		}

		bar.IncrementInProgress(1)

		if err := runRound(manager, calc, int(i)); err != nil {
			return err
		}

		bar.MoveInProgressToFinished(1)
	}

	return nil
}

func runRound(manager *hook.Manager, calc *objrt.Class, i int) error {
	obj := objrt.New(calc)
	defer obj.Release()

	token, err := manager.HookObject(obj, "sum", hook.Instead,
		func(original func(int, int) int, a, b int) int {
			return original(a, b) + 1
		})
	if err != nil {
		return err
	}

	if _, err := manager.HookObject(obj, objrt.Dealloc, hook.After,
		func() {}); err != nil {
		return err
	}

	result, err := sendSum(obj, i, i)
	if err != nil {
		return err
	}

	if result != 2*i+1 {
		return fmt.Errorf("round %d: sum returned %d", i, result)
	}

	if err := sendExecute(obj, func() {}); err != nil {
		return err
	}

	if i%2 == 0 {
		token.Cancel()
	}

	return nil
}
