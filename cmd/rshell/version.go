package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/rshell/internal/version"
)

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Module(), version.Current())
				return err
			}
			info := version.Describe()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "module: %s\nversion: %s\nrevision: %s\ngo: %s\n", info.Module, info.Version, info.Revision, info.GoVersion)
			return err
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include revision and Go version")
	return cmd
}
