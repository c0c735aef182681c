// Package main provides the flushplan CLI, which inspects how a schema's
// records would be persisted: flush order, dependency closures, and a dry
// run of a flush against an in-memory store.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
