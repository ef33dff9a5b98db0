package cmd

import (
	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/hybrid-retrieval/internal/adapters/mcp"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the hybrid_search tool over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			server := mcpadapter.NewServer("hybrid-retrieval", version, s.app.Retriever, s.app.Vector, s.cfg.FinalCount, s.logger)
			s.logger.Info("mcp_serving", "transport", "stdio")
			return server.ServeStdio()
		},
	}
}
