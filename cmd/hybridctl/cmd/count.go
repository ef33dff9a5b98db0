package cmd

import (
	"github.com/spf13/cobra"
)

func newCountCmd(root *rootOptions) *cobra.Command {
	var project, collection string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count chunks in the vector store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			count, err := s.app.Vector.Count(cmd.Context(), project, collection)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%d\n", count)
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project id")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Only count this collection")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
