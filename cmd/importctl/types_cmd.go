package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/JonMunkholm/energyimport/internal/core"
	"github.com/spf13/cobra"
)

func newTypesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List record types, their fields and accepted header aliases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types := core.SupportedTypes()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), types)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, t := range types {
				fmt.Fprintf(tw, "%s (%s)\n", t.Kind, t.Label)
				for _, f := range t.Fields {
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", f.Name, f.Type, fieldFlags(f), strings.Join(f.Aliases, ", "))
				}
				fmt.Fprintln(tw)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func fieldFlags(f core.SupportedField) string {
	var flags []string
	if f.Required {
		flags = append(flags, "required")
	}
	if f.Link {
		flags = append(flags, "link")
	}
	return strings.Join(flags, ",")
}
