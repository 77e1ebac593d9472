package main

import (
	"context"
	"os"

	"github.com/nadalpiantini/omnidrive/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(context.Background(), version))
}
