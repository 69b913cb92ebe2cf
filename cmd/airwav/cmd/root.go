// Package cmd contains the CLI commands for airwav.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/airwav/airwav/internal/config"
	"github.com/airwav/airwav/internal/observability"
	"github.com/airwav/airwav/internal/version"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "airwav",
	Short:   "Autonomous radio broadcast engine",
	Version: version.Short(),
	Long: `airwav is an autonomous radio station. It builds programme segments
ahead of airtime (tracks, DJ commentary, station liners), mixes them
onto a continuous PCM timeline and streams the result to an RTMP
ingest, with a dashboard API for watching and steering the rotation.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set up logging after config is loaded. PersistentPreRunE is assigned
	// here rather than in the struct literal to avoid an initialization cycle.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initLogging(cmd)
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	// Note: log flags are intentionally NOT bound to viper here. Viper's
	// flag binding would make the flag default override env vars and config
	// file values. Instead, initLogging checks flag.Changed to apply the
	// correct precedence: CLI > env > config > default.
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Same search order as config.Load.
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/airwav")
		viper.AddConfigPath("$HOME/.airwav")
	}

	viper.SetEnvPrefix("AIRWAV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging sets up the logger based on config and flags.
// Precedence: CLI flags > env vars > config file > defaults.
func initLogging(cmd *cobra.Command) error {
	logLevel := viper.GetString("logging.level")
	logFormat := viper.GetString("logging.format")

	// CLI flags override everything, but only when explicitly set.
	if cmd.Flags().Changed("log-level") {
		logLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-format") {
		logFormat, _ = cmd.Flags().GetString("log-format")
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	logCfg := config.LoggingConfig{
		Level:      logLevel,
		Format:     strings.ToLower(logFormat),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, "airwav")
	observability.SetDefault(logger)

	return nil
}

// mustBindPFlag binds a viper key to a pflag and panics on error.
// BindPFlag only fails on a nil flag, which is a programming error.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %q: %v", key, err))
	}
}
