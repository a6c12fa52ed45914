// Command filecached runs the in-memory file cache daemon: the storage
// core of pkg/filecache plumbed to a local Unix domain socket by
// internal/server, fronted by a Cobra CLI.
package main

import (
	"fmt"
	"os"

	"github.com/oxcache/filecached/cmd/filecached/commands"
)

// Build-time variables injected via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
