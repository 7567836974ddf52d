package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/kitovu/kitovu/internal/config"
	"github.com/kitovu/kitovu/internal/history"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newHistoryCmd())
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.HistoryPath == "" {
				return errors.New("run history is disabled")
			}
			limit, _ := cmd.Flags().GetInt("limit")
			showFiles, _ := cmd.Flags().GetBool("files")

			journal, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			runs, err := journal.Runs(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded yet")
				return nil
			}

			for _, run := range runs {
				printRun(out, run)
			}
			if showFiles {
				entries, err := journal.Files(runs[0].ID)
				if err != nil {
					return err
				}
				printEntries(out, entries)
			}
			return nil
		},
	}
	cmd.Flags().String("history", config.DefaultHistoryPath, "run history database")
	cmd.Flags().IntP("limit", "l", 5, "number of runs to show")
	cmd.Flags().BoolP("files", "f", false, "list the files of the latest run")
	return cmd
}

func printRun(w io.Writer, run *history.Run) {
	status := green("ok")
	switch {
	case run.Finished().IsZero():
		status = yellow("unfinished")
	case run.Cancelled:
		status = yellow("cancelled")
	case run.Failures() > 0:
		status = red(fmt.Sprintf("%d failed", run.Failures()))
	}
	fmt.Fprintf(w, "%s  %s  %s, %s downloaded (%s)  %s\n",
		cyan(run.ID[:min(8, len(run.ID))]),
		run.Started().Local().Format("2006-01-02 15:04"),
		plural(run.Processed, "file"),
		plural(run.Downloads, "file"),
		humanize.Bytes(uint64(run.DownloadedBytes)),
		status,
	)
}

func printEntries(w io.Writer, entries []*history.Entry) {
	for _, e := range entries {
		switch {
		case e.Error != "":
			where := e.RemotePath
			if where == "" {
				where = e.Subject
			}
			if where == "" {
				where = e.Connection
			}
			fmt.Fprintf(w, "  %s %s %s: %s\n", red("✗"), e.Scope, where, e.Error)
		default:
			fmt.Fprintf(w, "  %-14s %-8s %s\n", e.State, e.Action, e.LocalPath)
		}
	}
}
