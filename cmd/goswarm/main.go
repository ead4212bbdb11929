// Goswarm runs a swarm of delegating agents.
//
// The serve command starts the delegation engine with its WebSocket
// gateway, read-only HTTP API, scheduler, and trace collector. The run
// command drives a single free-running loop from the terminal. The
// delegations and schedule commands are thin gateway clients, so they
// need a running serve; agents and credentials work on local
// configuration alone.
//
// Usage:
//
//	goswarm serve                    Start the runtime
//	goswarm run "task"               Run the entry agent on a task
//	goswarm agents list              List configured agent profiles
//	goswarm delegations list         Show delegation history
//	goswarm schedule list|add|...    Manage scheduled delegations
//	goswarm credentials set|delete   Manage provider API keys
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
