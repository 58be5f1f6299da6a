package version

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	v "github.com/mdraculin/stc-isp/version"
)

// NewCommand creates a new `version` command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Shows version number of stc-isp.",
		Long:    "Shows the version number of stc-isp which is installed on your system.",
		Example: "  " + os.Args[0] + " version",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(v.Info)
		},
	}
}
