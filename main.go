package main

import (
	"fmt"
	"os"

	"github.com/nickorefice/github-build-auditor/cmd/cli"
)

const (
	exitErrorTemplateConstant = "%v\n"
)

// main executes the build-auditor command-line application.
func main() {
	if executionError := cli.Execute(); executionError != nil {
		fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, executionError)
		os.Exit(1)
	}
}
