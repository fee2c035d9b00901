package main

import (
	"os"

	"nutflow/cmd/nutflow/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
