package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/shipstats/internal/database"
	"github.com/TobiSchelling/shipstats/internal/export"
	"github.com/TobiSchelling/shipstats/internal/report"
	"github.com/TobiSchelling/shipstats/internal/server"
	"github.com/TobiSchelling/shipstats/internal/store"
)

// --- history command ---

var (
	historyLimit int
	historyTag   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent tag results from the run history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var results []database.TagResult
		if historyTag != "" {
			results, err = db.GetTagHistory(historyTag)
		} else {
			results, err = db.GetRecentTagResults(historyLimit)
		}
		if err != nil {
			return fmt.Errorf("reading history: %w", err)
		}
		if len(results) == 0 {
			fmt.Println("No results recorded yet.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Recorded", "Run", "Tag", "Outcome", "Kudos", "Hits", "Works", "Error"})
		for _, r := range results {
			runID := r.RunID
			if len(runID) > 8 {
				runID = runID[:8]
			}
			errText := ""
			if r.Error != nil {
				errText = *r.Error
			}
			t.AppendRow(table.Row{r.RecordedAt, runID, r.Tag, r.Outcome, r.TotalKudos, r.TotalHits, r.WorkCount, errText})
		}
		t.Render()
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of results to show")
	historyCmd.Flags().StringVar(&historyTag, "tag", "", "Show every result for one tag")
}

// --- report command ---

var (
	reportFormat string
	reportSort   string
	reportTitle  string
	reportTotals bool
)

var reportCmd = &cobra.Command{
	Use:   "report OUTPUT.csv",
	Short: "Render an output file as a table, JSON, Markdown or HTML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(reportFormat)
		if err != nil {
			return err
		}
		rows, err := store.ReadSummaries(args[0])
		if err != nil {
			return err
		}
		rows, err = report.Sort(rows, reportSort)
		if err != nil {
			return err
		}
		return report.Render(os.Stdout, format, rows, report.Options{Title: reportTitle, Totals: reportTotals})
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "table", "Output format (table, json, markdown, html)")
	reportCmd.Flags().StringVar(&reportSort, "sort", "", "Sort by tag, kudos, hits, bookmarks, comments, words or works")
	reportCmd.Flags().StringVar(&reportTitle, "title", "", "Title for Markdown and HTML output")
	reportCmd.Flags().BoolVar(&reportTotals, "totals", false, "Append a totals row")
}

// --- export command ---

var exportCmd = &cobra.Command{
	Use:   "export OUTPUT.csv DEST",
	Short: "Copy an output file to a path, file:// or s3:// URL",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := export.Export(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Exported %s to %s\n", args[0], dest)
		return nil
	},
}

// --- serve command ---

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve OUTPUT.csv",
	Short: "Start the local dashboard for an output file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Printf("Starting server at http://%s\n", serveAddr)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(cmd.Context(), serveAddr, args[0], db, logger.Named("server"))
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "127.0.0.1:8000", "Address to listen on")
}
