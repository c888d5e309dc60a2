package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pendergraft/deployproof/internal/cli"
)

var version = "dev"

func main() {
	err := cli.Execute(version)
	if err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	os.Exit(cli.ExitCode(err))
}
