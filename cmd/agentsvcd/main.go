// Command agentsvcd runs the agent CLI orchestration service: it
// fronts an external coding-assistant CLI over a REST interface,
// attributes cost to sessions, and optionally schedules work through
// the priority task queue (spec §1-§2).
package main

import (
	"fmt"
	"os"

	"github.com/agentsvc/agentsvcd/cmd/agentsvcd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
