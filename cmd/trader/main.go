package main

import (
	"os"

	"gotrader/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
