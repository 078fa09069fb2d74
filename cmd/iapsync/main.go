// Command iapsync runs sandbox purchases and syncs completed transactions to
// an attribution service.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/iapsync/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintln(os.Stderr, "iapsync:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
