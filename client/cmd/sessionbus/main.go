// Command sessionbus is a command-line client for a session broker.
//
//	sessionbus listen [channels...]         log every event on the channels
//	sessionbus publish <channel> [args...]  publish one event and exit
//
// Connection settings come from the YAML file named by --config; see
// config.example.yaml.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
