// Command ragproxy is the entry point for the local RAG proxy: a
// retrieval-augmenting, OpenAI-compatible gateway in front of a spawned
// local LLM backend.
package main

import (
	"fmt"
	"os"

	"github.com/localrag/ragproxy-go/cmd/ragproxy/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
