package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/photon/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "photon",
	Short: "Framed, multi-stream messaging between a control station and a field device",
	Long: `Framed, multi-stream messaging between a control station and a field device

Photon multiplexes firmware, command, telemetry and user streams over a
single serial or TCP byte link, with acknowledged delivery for reliable
packets.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(StationCmd)
	RootCmd.AddCommand(DeviceCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(PortsCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
