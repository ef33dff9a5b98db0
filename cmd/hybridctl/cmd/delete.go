package cmd

import (
	"github.com/spf13/cobra"
)

func newDeleteCmd(root *rootOptions) *cobra.Command {
	var project, collection string

	cmd := &cobra.Command{
		Use:   "delete <chunk-id>...",
		Short: "Remove chunks from both indexes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			for _, id := range args {
				if err := s.app.Indexer.DeleteChunk(cmd.Context(), project, collection, id); err != nil {
					return err
				}
			}
			printf(cmd.OutOrStdout(), "deleted %d chunks from %s\n", len(args), project)
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project id")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection the chunks live in (required by some lexical backends)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
