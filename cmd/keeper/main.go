// Command keeper is the offline-first inventory and finance record keeper.
package main

import (
	"os"

	"github.com/keeperhq/keeper/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
