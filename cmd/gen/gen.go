package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for photon",
	Long: `Generate documentation for photon

Usage
	photon gen man --dir man/
`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
