package main

import (
	"os"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
