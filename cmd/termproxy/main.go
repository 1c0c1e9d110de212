// termproxy relays one authenticated client connection to a program
// running in a pseudo-terminal.
//
//	termproxy --path /vms/100 5900 -- /bin/login -f root
package main

import (
	"fmt"
	"os"

	"github.com/opencomputer/termproxy/cmd/termproxy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
