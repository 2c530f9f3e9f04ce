// classroomctl inspects the classroom server's roster, selection policy and
// transcript archive without starting the server.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
