// Package main is the entry point for the airwav application.
package main

import (
	"os"

	"github.com/airwav/airwav/cmd/airwav/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
