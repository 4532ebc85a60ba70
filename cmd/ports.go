package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/photon/transport"
)

var PortsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports a link can be opened on",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.SerialPorts()
		if err != nil {
			return err
		}

		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No serial ports found")
			return nil
		}

		for _, port := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), port)
		}

		return nil
	},
}
