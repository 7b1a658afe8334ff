// Command gridsync mirrors a grid of occupancy sensors into a block world:
// it scans the sensors on a fixed interval and streams the changes to the
// world-state service as setblock commands.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func App() *cli.App {
	return &cli.App{
		Name:  "gridsync",
		Usage: "stream sensor grid occupancy to a block world",
		Commands: []*cli.Command{
			RunCommand(),
			JournalCommand(),
		},
	}
}

func main() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
