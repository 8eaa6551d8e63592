package main

import (
	"context"
	"os"

	"github.com/loqalabs/loqa-dictate/internal/cli"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(cli.Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, cli.Options{Version: version}))
}
