package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ekaya-inc/ekaya-finsight/cmd"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := cmd.Execute(context.Background(), Version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
