// Package main implements insta-mirror, which copies new posts from a list of
// Instagram accounts to the logged-in account.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "insta-mirror",
		Short:         "Mirror new Instagram posts to your own account",
		Long:          "insta-mirror polls a list of Instagram accounts, downloads every post newer than the last one seen, stamps an overlay on photos and republishes them with hashtags and mentions removed from the caption.",
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "insta-mirror %s (%s)\n", Version, Commit)
			},
		},
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
