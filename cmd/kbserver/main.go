// Command kbserver runs the knowledge bank embedding service.
package main

import (
	"os"

	"github.com/Dearborn-Open-AI/neural-structured-learning/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
