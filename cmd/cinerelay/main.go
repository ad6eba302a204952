// Command cinerelay serves the cloud proxy and acquisition API, or runs a
// single acquisition from the command line.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
