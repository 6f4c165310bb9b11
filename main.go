package main

import (
	"os"

	"github.com/7hr08ik/Freqtrade-HyperLoop/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
