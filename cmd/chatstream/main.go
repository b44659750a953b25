// Package main provides the entry point for the chatstream CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/chatstream/cmd/chatstream/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
