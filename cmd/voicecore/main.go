// Command voicecore runs a live voice conversation in the terminal.
//
// Usage:
//
//	voicecore [--config file] run
//	voicecore config schema
//	voicecore config show
package main

import (
	"fmt"
	"os"

	"github.com/auriter/voicecore/cmd/voicecore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
