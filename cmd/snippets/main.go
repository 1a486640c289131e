// Package main is the entry point for the snippets server.
// This is a thin wrapper around the cli package.
package main

import (
	"os"

	"github.com/zot/snippets/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
