package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kingrea/orchestra/internal/config"
)

var (
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
	demo      bool
)

// Version is stamped at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "orchestra",
	Short:         "Bootstrap and serve a process orchestration engine",
	Long:          `orchestra builds the process engine from configuration, deploys the service-orchestration definitions it finds and exposes the engine services.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./orchestra.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default is ./.env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&demo, "demo", false, "also deploy the embedded sample order process")
}

// loadConfig reads the layered configuration; flags win over every file.
func loadConfig() (config.Snapshot, error) {
	overrides := map[string]string{}
	if logLevel != "" {
		overrides[config.KeyLogLevel] = logLevel
	}
	if logFormat != "" {
		overrides[config.KeyLogFormat] = logFormat
	}
	return config.Load(config.LoadOptions{
		ConfigFile: cfgFile,
		EnvFile:    envFile,
		Overrides:  overrides,
	})
}

func stdout(cmd *cobra.Command) io.Writer {
	if cmd != nil {
		return cmd.OutOrStdout()
	}
	return os.Stdout
}
