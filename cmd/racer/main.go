// Command racer runs a RACER mesh node, or one of its support subcommands
// (keygen, config).
package main

import "github.com/racer-mesh/racer/cmd/racer/cmd"

func main() {
	cmd.Execute()
}
