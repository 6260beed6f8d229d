package main

import (
	"os"

	"github.com/austindbirch/harbor_scheduler/cmd/schedctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
