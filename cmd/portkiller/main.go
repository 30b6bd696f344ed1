package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/686f6c61/linux-port-killer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		code := cli.ExitError
		var exitErr *cli.ExitCodeError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
			if exitErr.Err == nil {
				os.Exit(code)
			}
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code)
	}
}
