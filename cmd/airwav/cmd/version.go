package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/airwav/airwav/internal/version"
)

var versionOutput string

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit, and build date of airwav.",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch versionOutput {
		case "json":
			fmt.Println(version.JSON())
		case "yaml":
			data, err := yaml.Marshal(version.GetInfo())
			if err != nil {
				return fmt.Errorf("marshaling version info: %w", err)
			}
			fmt.Print(string(data))
		case "text":
			fmt.Println(version.String())
		default:
			return fmt.Errorf("unknown output format %q (expected text, json or yaml)", versionOutput)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().StringVarP(&versionOutput, "output", "o", "text", "output format (text, json, yaml)")
	rootCmd.AddCommand(versionCmd)
}
