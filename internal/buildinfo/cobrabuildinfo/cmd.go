package cobrabuildinfo

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/flightcore/recorder/internal/buildinfo"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build info",
		RunE: func(cmd *cobra.Command, args []string) error {
			return buildinfo.Dump(os.Stdout)
		},
	}
}

func Init(cmd *cobra.Command) {
	cmd.AddCommand(newVersionCommand())
}
