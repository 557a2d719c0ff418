// Command oneclient performs use cases through a OneClient core and prints
// the JSON schemas of its configuration and message protocol.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
