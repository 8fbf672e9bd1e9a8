package main

import (
	"os"

	"github.com/dexporter/dexporter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
