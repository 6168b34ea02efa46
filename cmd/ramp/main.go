// Command ramp is the operator CLI for the accessibility pipeline daemon.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ramp: %v\n", err)
		os.Exit(1)
	}
}
