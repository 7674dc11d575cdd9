// ABOUTME: Entry point for the profilectl CLI.
// ABOUTME: Invokes the root Cobra command and maps incomplete runs to exit code 1.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		if !errors.Is(err, errIncomplete) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
