package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/interpose/datarecording"
	"github.com/sarchlab/interpose/hook"
	"github.com/sarchlab/interpose/instrumentation/hooking"
)

var reportCmd = &cobra.Command{
	Use:   "report <recording.sqlite3>",
	Short: "Summarize the manager events recorded by monitor --record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return fmt.Errorf("cannot open recording: %w", err)
		}

		limit, _ := cmd.Flags().GetInt("limit")

		reader := datarecording.NewReader(args[0])
		defer reader.Close()

		return writeReport(cmd.Context(), cmd.OutOrStdout(), reader, limit)
	},
}

func init() {
	reportCmd.Flags().Int("limit", 10, "The number of recent events to list.")

	rootCmd.AddCommand(reportCmd)
}

var reportedPositions = []*hooking.HookPos{
	hook.HookPosContextCreated,
	hook.HookPosHooked,
	hook.HookPosCanceled,
	hook.HookPosContextReleased,
	hook.HookPosWrapped,
	hook.HookPosUnwrapped,
}

// writeReport prints the number of events per position, the cancel results,
// and the most recent events.
func writeReport(
	ctx context.Context,
	w io.Writer,
	reader datarecording.DataReader,
	limit int,
) error {
	events := datarecording.NewEventReader(reader)

	fmt.Fprintln(w, "events:")

	for _, pos := range reportedPositions {
		total, err := events.CountByPosition(ctx, pos.Name)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "  %-16s %d\n", pos.Name, total)
	}

	fmt.Fprintln(w, "cancel results:")

	for _, result := range []hook.CancelResult{
		hook.Restored, hook.NotRestored, hook.AlreadyInvalid,
	} {
		total, err := events.CountByResult(ctx,
			hook.HookPosCanceled.Name, result.String())
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "  %-16s %d\n", result, total)
	}

	if limit <= 0 {
		return nil
	}

	recent, err := events.Recent(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "recent:")

	for _, e := range recent {
		target := e.Class
		if e.Selector != "" {
			target += "." + e.Selector
		}

		fmt.Fprintf(w, "  %-16s %s %s%s\n",
			e.Position, target, e.Mode, e.Result)
	}

	return nil
}
