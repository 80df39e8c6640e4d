package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	flags := &providerFlags{}
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List chat models offered by the provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, _, err := loadGateway(cmd, *flags)
			if err != nil {
				return err
			}
			models, err := gw.AvailableModels(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", m.ID, m.OwnedBy, m.Created)
			}
			return tw.Flush()
		},
	}
	flags.register(cmd)
	return cmd
}
