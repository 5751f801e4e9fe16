package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/zkdrop/internal/flagx"
)

// GlobalFlags are the flags owned by this package. The CLI skips them
// when looking for its command.
var GlobalFlags = []string{"-a", "-t"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     root URL of the ZKDrop server (default from Config)
//	-t duration   HTTP request timeout (default from Config)
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, so command flags do not interfere.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], GlobalFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "root URL of the server")
	fs.DurationVar(&cfg.RequestTimeout, "t", cfg.RequestTimeout, "HTTP request timeout")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
