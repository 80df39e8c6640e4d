package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"completion-gateway/internal/gateway"
)

func newTokensCmd() *cobra.Command {
	var inputFile, system string
	cmd := &cobra.Command{
		Use:   "tokens [text...]",
		Short: "Estimate the token count of a prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args, inputFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			count := gateway.EstimateTokenCount(buildMessages(system, text))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), count)
			return err
		},
	}
	cmd.Flags().StringVarP(&inputFile, "file", "F", "", "input file, use -F- for stdin")
	cmd.Flags().StringVar(&system, "system", "", "system prompt to include")
	return cmd
}
