// cmd/orchestra/main.go
//
// Entry point for the orchestra CLI. All commands live in the cmd package.

package main

import (
	"fmt"
	"os"

	"github.com/kingrea/orchestra/cmd/orchestra/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
