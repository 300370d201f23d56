package main

import (
	"github.com/JonMunkholm/energyimport/internal/core"
	"github.com/spf13/cobra"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent import runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, runs, release, err := openStores(cmd.Context(), root.cfg, "postgres")
			if err != nil {
				return err
			}
			defer release()

			list, err := runs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				if list == nil {
					list = []*core.ImportRun{}
				}
				return writeJSON(cmd.OutOrStdout(), list)
			}
			return writeRuns(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newShowCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a run with its error report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, runs, release, err := openStores(cmd.Context(), root.cfg, "postgres")
			if err != nil {
				return err
			}
			defer release()

			run, err := runs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			return writeSummary(cmd.OutOrStdout(), run)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
