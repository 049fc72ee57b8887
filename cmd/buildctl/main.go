// Command buildctl is the operator CLI for the build engine: inspecting the
// content-addressable store, resolving external repository sources, and
// signing or verifying run-proof bundles.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "buildctl",
	Short: "Inspect and operate the build engine's storage, repositories, and proofs",
}

func init() {
	rootCmd.AddCommand(casCmd, repoCmd, proofCmd)
}
