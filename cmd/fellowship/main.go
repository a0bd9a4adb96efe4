// Command fellowship runs the community data-sync CLI.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/fellowship/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
