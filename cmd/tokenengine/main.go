// Package main provides the tokenengine command: the HTTP service plus
// one-shot mint, burn, onboarding and migration commands.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
