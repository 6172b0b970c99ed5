package main

import (
	"os"

	"marketcache/cmd/marketcache/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
