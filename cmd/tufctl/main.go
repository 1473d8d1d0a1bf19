// Command tufctl drives the update client from the shell: bootstrap a
// trust root, refresh cached metadata, and resolve a package against
// the trusted index.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tufctl",
	Short: "tufcore update client",
	Long:  "tufctl bootstraps, refreshes and queries a tufcore package repository.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
