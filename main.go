// The main package for the artifact-loader executable.
package main

import (
	"github.com/JakeFAU/artifact-loader/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
