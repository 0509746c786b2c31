// Command mirror keeps an ordered, live copy of a remote collection and
// prints it as it changes.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
