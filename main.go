package main

import (
	"os"

	"github.com/mdraculin/stc-isp/cli"
)

func main() {
	if err := cli.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
