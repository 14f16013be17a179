// Package main is the entry point for the partyphone daemon.
//
// Usage:
//
//	partyphone [flags] <command>
//
// Commands:
//
//	run        - Run the phone system from a config file
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/AustinMutschler/partyphone/cmd/partyphone/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
