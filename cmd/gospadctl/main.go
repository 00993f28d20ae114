// gospadctl is the command-line client for the gospad daemon's admin API.
package main

import "github.com/spad-project/gospad/cmd/gospadctl/commands"

func main() {
	commands.Execute()
}
