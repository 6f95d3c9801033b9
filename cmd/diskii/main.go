// Command diskii binds the fat16/gcr/nic/sdcard/stepper/hostio/emulator
// packages into a host-runnable tool: a real-time board-driven service
// loop, plus three offline commands for developing against card images
// without hardware (convert/inspect/fsview).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
