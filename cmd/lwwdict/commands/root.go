package commands

import (
	"os"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/cobra"

	"github.com/khelechy/lwwdict/config"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lwwdict",
	Short: "lwwdict - Last-Write-Wins replicated dictionary",
	Long: `lwwdict hosts Last-Write-Wins element dictionaries: key-value replicas that
accept writes independently and merge without coordination. Conflicts are
settled by timestamp, and an add and remove carrying the same timestamp are
settled by the configured bias.

This CLI runs an HTTP node, simulates a group of replicas converging, and
merges encoded replica snapshots.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to an env file with LWWDICT_* overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Log level: debug, info, warn or error")
}

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	return logger
}

// loadConfig reads the env file and the config file named by the
// persistent flags.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	return config.LoadConfig(cfgFile)
}
