package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/rshell/internal/appconfig"
	"pkt.systems/rshell/internal/portrange"
)

func newPortCmd() *cobra.Command {
	var rangeSpec string
	cmd := &cobra.Command{
		Use:   "port [app-name]",
		Short: "Print the listen port derived from an application name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := appconfig.DefaultAppName
			if len(args) == 1 {
				name = args[0]
			}
			r, err := portrange.Parse(rangeSpec)
			if err != nil {
				return err
			}
			port, err := portrange.Port(name, r)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), port)
			return err
		},
	}
	cmd.Flags().StringVar(&rangeSpec, "range", portrange.Default().String(), "port range as begin:end")
	return cmd
}
