package main

import (
	"os"

	"github.com/spigell/jobhunter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
