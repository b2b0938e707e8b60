// provisor composes container image layers into root filesystems and tears
// them down again, via pluggable copy-based or native layering backends.
package main

import (
	"fmt"
	"os"

	"github.com/layerline/provisor/internal/cli"
)

var version = "dev"

func main() {
	cli.SetVersion(version)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
