package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// envVars maps flags to the environment variables that provide their
// defaults.
var envVars = map[string]string{
	"debug":        "INTERPOSE_DEBUG",
	"port":         "INTERPOSE_MONITOR_PORT",
	"record":       "INTERPOSE_RECORD",
	"clickhouse":   "INTERPOSE_CLICKHOUSE_ADDR",
	"open-browser": "INTERPOSE_OPEN_BROWSER",
}

// loadConfig reads the env file, if any, and fills every flag that was not
// set on the command line from its environment variable.
func loadConfig(flags *pflag.FlagSet) error {
	envFile, _ := flags.GetString("env-file")
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("cannot load %s: %w", envFile, err)
		}
	}

	var err error

	flags.VisitAll(func(f *pflag.Flag) {
		name, found := envVars[f.Name]
		if !found || f.Changed || err != nil {
			return
		}

		value, set := os.LookupEnv(name)
		if !set {
			return
		}

		if setErr := flags.Set(f.Name, value); setErr != nil {
			err = fmt.Errorf("invalid %s=%q: %w", name, value, setErr)
		}
	})

	return err
}
