package main

import (
	"os"

	"dragonfarm/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
