// Command chatlogd runs the message store's operational CLI: serve,
// query, gc, stats. See internal/cli for the command tree and
// internal/msgstore for the store itself.
package main

import (
	"fmt"
	"os"

	"github.com/chatlogd/chatlogd/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
