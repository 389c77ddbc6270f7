// Command marinegrid is the on-device daemon entrypoint: it wires the
// eight components of the marine weather intelligence pipeline together
// and serves a small operational HTTP surface alongside them.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
