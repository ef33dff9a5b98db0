package main

import (
	"os"

	"github.com/kirillkom/hybrid-retrieval/cmd/hybridctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
