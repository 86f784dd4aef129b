package main

import (
	"os"

	"github.com/meshkit-ai/meshkit/cmd/meshd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
