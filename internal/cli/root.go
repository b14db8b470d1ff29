// Package cli implements the readerctl operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the readerctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "readerctl",
		Short:         "Operator tools for the PDF reader backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("format", "f", "text", "Output format: json or text")
	root.AddCommand(
		newGigaChatKeyCmd(),
		newGigaChatTokenCmd(),
		newOutlineCmd(),
		newContextCmd(),
	)
	return root
}

func outputJSON(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("format")
	return format == "json"
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
