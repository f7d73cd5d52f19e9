// Command clibridge exposes a local agent command-line tool as a
// multi-turn HTTP service.
package main

import "github.com/clibridge/clibridge/cmd/clibridge/cmd"

func main() {
	cmd.Execute()
}
