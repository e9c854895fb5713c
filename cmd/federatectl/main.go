// Command federatectl is a CLI client for the federate runtime core's
// admin HTTP API.
package main

import "github.com/lfed/federate/cmd/federatectl/commands"

func main() {
	commands.Execute()
}
