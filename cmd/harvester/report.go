package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"hcharvest/internal/harvest"
	"hcharvest/internal/validator"
)

const maxErrorWidth = 80

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	return t
}

// printSummary renders the run totals followed by one table per kind of failure.
func printSummary(w io.Writer, s *harvest.Summary) {
	if s == nil {
		return
	}

	t := newTable(w)
	t.SetTitle("Harvest %s", s.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"State", s.State},
		{"Collections", s.Collections},
		{"Sections", s.Sections},
		{"Articles attempted", s.Attempted},
		{"Articles written", s.Succeeded},
		{"Articles failed", s.Failed},
		{"Images downloaded", s.ImagesDownloaded},
		{"Image failures", len(s.ImageFailures)},
		{"Images without source", s.ImagesWithoutSource},
		{"Degraded conversions", len(s.Degraded)},
		{"Duration", s.Duration.Round(time.Millisecond)},
	})

	if s.State == harvest.StateCompleted {
		t.AppendFooter(table.Row{"Index", s.IndexPath})
	}

	t.Render()

	if len(s.Failures) > 0 {
		ft := newTable(w)
		ft.SetTitle("Failed articles")
		ft.AppendHeader(table.Row{"Article", "Title", "Stage", "Error"})
		ft.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: maxErrorWidth}})

		for _, f := range s.Failures {
			ft.AppendRow(table.Row{f.ArticleID, f.Title, string(f.Stage), f.Err.Error()})
		}

		ft.Render()
	}

	if len(s.ImageFailures) > 0 {
		it := newTable(w)
		it.SetTitle("Images kept remote")
		it.AppendHeader(table.Row{"Article", "Image", "Error"})
		it.SetColumnConfigs([]table.ColumnConfig{
			{Number: 2, WidthMax: maxErrorWidth},
			{Number: 3, WidthMax: maxErrorWidth},
		})

		for _, f := range s.ImageFailures {
			it.AppendRow(table.Row{f.ArticleID, f.Remote(), f.Err.Error()})
		}

		it.Render()
	}

	if s.Verification != nil {
		printVerification(w, s.Verification)
	}
}

// printVerification renders verifier statistics and any problems found.
func printVerification(w io.Writer, r *validator.ValidationResult) {
	status := "valid"
	if !r.IsValid {
		status = "INVALID"
	}

	t := newTable(w)
	t.SetTitle("Output verification: %s", status)
	t.AppendHeader(table.Row{"Check", "Count"})
	t.AppendRows([]table.Row{
		{"Markdown files", r.Stats.Files},
		{"Valid files", r.Stats.ValidFiles},
		{"Invalid files", r.Stats.InvalidFiles},
		{"Local images", r.Stats.LocalImages},
		{"Remote images", r.Stats.RemoteImages},
		{"Missing images", r.Stats.MissingImages},
		{"Index entries", r.Stats.IndexEntries},
	})
	t.Render()

	if len(r.Errors) == 0 && len(r.Warnings) == 0 {
		return
	}

	pt := newTable(w)
	pt.AppendHeader(table.Row{"File", "Field", "Problem"})
	pt.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: maxErrorWidth}})

	for _, e := range r.Errors {
		problem := e.Message
		if e.Value != "" {
			problem += " (" + e.Value + ")"
		}

		pt.AppendRow(table.Row{e.File, e.Field, problem})
	}

	for _, warning := range r.Warnings {
		pt.AppendRow(table.Row{"", "warning", warning})
	}

	pt.Render()
}
