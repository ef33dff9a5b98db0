package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type searchOptions struct {
	project     string
	collections []string
	limit       int
	format      string
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search",
		Long: `Run the lexical and vector branches, fuse them with reciprocal rank
fusion and print the hits.

Examples:
  hybridctl search "reset password" --project acme
  hybridctl search "invoice" -p acme --collection billing --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "Project id")
	cmd.Flags().StringSliceVarP(&opts.collections, "collection", "c", nil, "Restrict to collection (repeatable)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum hits (defaults to the configured final count)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func runSearch(cmd *cobra.Command, root *rootOptions, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unsupported format %q", opts.format)
	}
	s, err := root.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	limit := opts.limit
	if limit <= 0 {
		limit = s.app.Retriever.Config().FinalCount
	}
	resp, err := s.app.Retriever.Search(cmd.Context(), opts.project, domain.SearchQuery{
		Q:           query,
		Collections: opts.collections,
		Limit:       limit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(resp)
	}

	printf(out, "%d hits (methods: %s, fusion %.2f, %dms)\n",
		len(resp.Hits), strings.Join(resp.SearchMethods, "+"), resp.FusionScore, resp.ProcessingTimeMs)
	for i, hit := range resp.Hits {
		title := hit.PayloadString("title")
		if title == "" {
			title = hit.DocID
		}
		printf(out, "%2d. %-40s %.4f  [%s]  %s\n", i+1, title, hit.Score, hit.Provenance, hit.DocID)
	}
	return nil
}
