// Command ceremony coordinates Powers of Tau and circuit key trusted setup
// ceremonies on BN254.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := CLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
