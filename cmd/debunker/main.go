// Command debunker checks health claims in video transcripts against
// published research
package main

import (
	"fmt"
	"os"

	"github.com/victorx64/biohack-debunker/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
