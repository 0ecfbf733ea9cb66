// Package main provides the entry point for the agentexec CLI.
package main

import (
	"fmt"
	"os"

	"github.com/agentexec/agentexec/cmd/agentexec/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
