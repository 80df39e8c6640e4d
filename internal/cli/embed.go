package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type embedOptions struct {
	providerFlags
	InputFile string
	JSON      bool
}

func newEmbedCmd() *cobra.Command {
	opts := &embedOptions{}
	cmd := &cobra.Command{
		Use:   "embed [text...]",
		Short: "Create embeddings, one per argument",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := args
			if opts.InputFile != "" {
				text, err := readInput(args, opts.InputFile, cmd.InOrStdin())
				if err != nil {
					return err
				}
				inputs = []string{text}
			}
			if len(inputs) == 0 {
				return fmt.Errorf("missing input: provide args or -F")
			}

			gw, _, _, err := loadGateway(cmd, opts.providerFlags)
			if err != nil {
				return err
			}
			result, err := gw.CreateEmbedding(cmd.Context(), inputs...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.JSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			dimensions := 0
			if len(result.Embeddings) > 0 {
				dimensions = len(result.Embeddings[0])
			}
			_, err = fmt.Fprintf(out, "model: %s\nvectors: %d\ndimensions: %d\n",
				result.Model, len(result.Embeddings), dimensions)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.InputFile, "file", "F", "", "input file, use -F- for stdin")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the full result as JSON")
	opts.providerFlags.register(cmd)
	return cmd
}
