// Command graphrag runs the GraphRAG HTTP API and its maintenance commands.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	root := newRootCmd()
	root.SetOut(os.Stdout)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
