// Command stripekit is a small command-line client for the API.
//
// Settings come from an optional config file, STRIPE_* environment variables
// and flags, in increasing order of precedence.
package main

import (
	"os"
)

func main() {
	if err := NewApp().Execute(); err != nil {
		os.Exit(1)
	}
}
