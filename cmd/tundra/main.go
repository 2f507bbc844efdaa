// Command tundra is the build engine's CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/tundra-build/tundra/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
