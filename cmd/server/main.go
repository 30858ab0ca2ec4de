package main

import (
	"os"

	"github.com/Priya8975/restock-notifier/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
