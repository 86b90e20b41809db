// Package cmd provides the command-line interface for interpose.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"
)

var logger = zap.NewNop()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "interpose",
	Short: "interpose runs and monitors method interception on sample classes.",
	Long: `interpose runs and monitors method interception on sample classes. ` +
		`Flags can also be set in a .env file or through INTERPOSE_* ` +
		`environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadConfig(cmd.Flags()); err != nil {
			return err
		}

		debug, _ := cmd.Flags().GetBool("debug")

		l, err := newLogger(debug)
		if err != nil {
			return err
		}

		logger = l
		atexit.Register(func() { _ = logger.Sync() })

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false,
		"Log debug messages and panic on broken hook bookkeeping.")
	rootCmd.PersistentFlags().String("env-file", ".env",
		"The file to load default flag values from.")
}

func newLogger(debug bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	l, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("cannot build logger: %w", err)
	}

	return l, nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
