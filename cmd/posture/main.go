// Command posture runs the endpoint security posture daemon and its
// companion tools.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/posture/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
