// Package main is the all-in-one mediaforge binary: API, dispatcher and maintenance commands.
package main

import (
	"os"

	"github.com/smallbiznis/mediaforge/cmd/mediaforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
