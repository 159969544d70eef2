// Package main is the corelink operator CLI: a thin shell over an
// in-process FileTransferManager for local demonstration purposes.
package main

import "github.com/corelink/node/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
