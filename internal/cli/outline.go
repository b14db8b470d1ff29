package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"pdfreader/internal/util"
	"pdfreader/pkg/outline"
)

func newOutlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outline FILE.pdf",
		Short: "Print the page count, metadata and outline of a local PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			info, err := outline.Extractor{NewID: util.NewID}.Inspect("local", data)
			if err != nil {
				return err
			}
			nested := outline.NewTree(info.Outline).Nested()
			if outputJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"pageCount": info.PageCount,
					"metadata":  info.Metadata,
					"outline":   nested,
				})
			}
			return printOutline(cmd.OutOrStdout(), info, nested)
		},
	}
}

func printOutline(w io.Writer, info outline.Info, nested []outline.NestedEntry) error {
	fmt.Fprintf(w, "pages: %d\n", info.PageCount)
	keys := make([]string, 0, len(info.Metadata))
	for k := range info.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, info.Metadata[k])
	}
	if len(nested) == 0 {
		_, err := fmt.Fprintln(w, "(no outline)")
		return err
	}
	var walk func(entries []outline.NestedEntry, depth int)
	walk = func(entries []outline.NestedEntry, depth int) {
		for _, e := range entries {
			fmt.Fprintf(w, "%s%s  [%d-%d]\n", strings.Repeat("  ", depth), e.Title, e.PageFrom, e.PageTo)
			walk(e.Children, depth+1)
		}
	}
	walk(nested, 0)
	return nil
}
