package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pdfreader/pkg/domain"
	"pdfreader/pkg/pages"
)

func newContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the pages that would be sent to the model for a request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, _ := cmd.Flags().GetInt("page")
			total, _ := cmd.Flags().GetInt("total")
			rawType, _ := cmd.Flags().GetString("type")
			from, _ := cmd.Flags().GetInt("from")
			to, _ := cmd.Flags().GetInt("to")
			radius, _ := cmd.Flags().GetInt("radius")
			if total < 1 {
				return errors.New("--total must be at least 1")
			}

			contextType := domain.ParseContextType(rawType)
			req := pages.Request{CurrentPage: page, TotalPages: total, ContextType: contextType}
			if from > 0 || to > 0 {
				req.Chapter = &pages.Chapter{PageFrom: from, PageTo: to}
			}
			opts := pages.NewOptions()
			opts.Radius = radius
			selected := pages.ContextPages(req, opts)
			if contextType == domain.ContextNone {
				selected = []int{}
			}

			if outputJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"contextType": contextType,
					"pages":       selected,
				})
			}
			parts := make([]string, len(selected))
			for i, p := range selected {
				parts[i] = fmt.Sprint(p)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: [%s]\n", contextType, strings.Join(parts, " "))
			return err
		},
	}
	cmd.Flags().Int("page", 1, "Current page (1-based)")
	cmd.Flags().Int("total", 0, "Total pages in the document (required)")
	cmd.Flags().String("type", "page", "Context type: page, chapter, section, document or none")
	cmd.Flags().Int("from", 0, "First page of the chapter")
	cmd.Flags().Int("to", 0, "Last page of the chapter")
	cmd.Flags().Int("radius", pages.DefaultRadius, "Pages on each side of the current page")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}
