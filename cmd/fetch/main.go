// Command fetch exercises the Twelve Data feed from the command line:
// single quotes, symbol search, key validation and a one-shot portfolio
// valuation.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&quoteCmd{}, "feed")
	commander.Register(&searchCmd{}, "feed")
	commander.Register(&validateCmd{}, "feed")
	commander.Register(&valueCmd{}, "portfolio")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
