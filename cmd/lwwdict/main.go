package main

import (
	"os"

	"github.com/khelechy/lwwdict/cmd/lwwdict/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
