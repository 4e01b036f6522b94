// Command pdfrag is the entry point for the PDF question-answering backend.
// It provides a CLI (via Cobra) for serving the HTTP API and for running
// ingestion and single questions locally.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/pdfrag-go/cmd/pdfrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
