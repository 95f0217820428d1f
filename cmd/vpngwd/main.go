// Command vpngwd is the VPN gateway daemon: it loads configuration from
// the environment, wires the auth service, IP pool, TUN interface, and
// supervisor together, and runs until signaled to shut down.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "vpngwd",
		Short: "vpngwd is a TLS-terminating remote-access VPN gateway",
	}

	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(&verbose),
		newMigrateCmd(&verbose),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println("vpngwd " + version)
			return nil
		},
	}
}
