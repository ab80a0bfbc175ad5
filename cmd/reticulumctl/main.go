// reticulumctl is the CLI client for reticulumd, querying its JSON admin
// API over HTTP to inspect path table, peer, and LXMF conversation state.
package main

import "github.com/torlando-tech/reticulum-core/cmd/reticulumctl/commands"

func main() {
	commands.Execute()
}
