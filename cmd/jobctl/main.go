package main

import (
	"os"

	"image-job-workers/cmd/jobctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
