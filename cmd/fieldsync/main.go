// Command fieldsync manages the local offline-first data layer for the
// reliefbase field applications: the embedded cache of server records, the
// durable outbound mutation queue, and the background sync daemon.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
