// Command bootr is the host update agent binary.
package main

import (
	"fmt"
	"os"

	"github.com/tinythings/bootr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
