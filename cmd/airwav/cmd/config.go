package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/airwav/airwav/internal/config"
	"github.com/airwav/airwav/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing airwav configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

This shows all available configuration options with the values currently
in effect: defaults merged with the config file and environment. You can
redirect this output to a file to create a configuration template:

  airwav config dump > config.yaml

Configuration can be set via:
  - Config file (./config.yaml, /etc/airwav/config.yaml, ~/.airwav/config.yaml)
  - Environment variables (AIRWAV_SERVER_PORT, AIRWAV_CATALOG_PATH, etc.)
  - Command-line flags (for some options)

Environment variables use the AIRWAV_ prefix and underscores for nesting.
Example: server.port -> AIRWAV_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// The global Viper already holds defaults, config file and env from
	// initConfig. Decode skips validation so a template can be dumped
	// before required values like catalog.path are set.
	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# airwav Configuration File")
	fmt.Println("# ==========================")
	fmt.Println("#")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 500MB, 2GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   AIRWAV_SERVER_HOST, AIRWAV_SERVER_PORT")
	fmt.Println("#   AIRWAV_CATALOG_PATH, AIRWAV_RTMP_URL")
	fmt.Println("#   AIRWAV_LLM_API_KEY, AIRWAV_TTS_BASE_URL")
	fmt.Println("#   AIRWAV_LOGGING_LEVEL, AIRWAV_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
