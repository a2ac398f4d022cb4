// Package importreport presents an importer.Result either as a success
// summary or as a per-row error table.
package importreport

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/phillip-england/hrsuite/internal/importer"
)

// Report is the rendering-neutral view of a Result.
type Report struct {
	Success   bool
	DryRun    bool
	Title     string
	Summary   string
	Created   []CreatedLine
	ErrorRows []ErrorLine
}

type CreatedLine struct {
	Row   int
	Email string
	Name  string
	Role  string
}

// ErrorLine is one failing row; Headline is the collapsed text and Details
// holds every message for the expanded view.
type ErrorLine struct {
	Row      int
	Email    string
	Headline string
	Details  []string
}

// Build branches on the Result variant.
func Build(result importer.Result) Report {
	if result.Success {
		return buildSuccess(result)
	}
	return buildFailure(result)
}

func buildSuccess(result importer.Result) Report {
	report := Report{Success: true, DryRun: result.DryRun}
	users := pluralUsers(result.Created)
	if result.DryRun {
		report.Title = "Dry run passed"
		report.Summary = "All " + pluralRows(result.TotalRows) + " " + english.PluralWord(result.TotalRows, "is", "are") +
			" valid; " + users + " would be created. Nothing was saved."
	} else {
		report.Title = "Import complete"
		report.Summary = "Created " + users + " from " + pluralRows(result.TotalRows) + "."
	}
	for _, user := range result.CreatedUsers {
		report.Created = append(report.Created, CreatedLine{
			Row:   user.Row,
			Email: user.Email,
			Name:  strings.TrimSpace(user.FirstName + " " + user.LastName),
			Role:  user.Role,
		})
	}
	return report
}

func buildFailure(result importer.Result) Report {
	report := Report{Success: false, DryRun: result.DryRun, Title: "Import failed"}
	failed := result.FailedRows()
	report.Summary = humanize.Comma(int64(failed)) + " of " + pluralRows(result.TotalRows) + " " +
		english.PluralWord(failed, "has", "have") + " errors. No users were created; fix the rows below and upload again."
	for _, rowErr := range result.Errors {
		line := ErrorLine{Row: rowErr.Row, Email: rowErr.Email, Details: rowErr.Errors}
		switch len(rowErr.Errors) {
		case 0:
			line.Headline = "invalid row"
		case 1:
			line.Headline = rowErr.Errors[0]
		default:
			line.Headline = rowErr.Errors[0] + " (+" + humanize.Comma(int64(len(rowErr.Errors)-1)) + " more)"
		}
		report.ErrorRows = append(report.ErrorRows, line)
	}
	return report
}

func pluralUsers(n int) string {
	return humanize.Comma(int64(n)) + " " + english.PluralWord(n, "user", "")
}

func pluralRows(n int) string {
	return humanize.Comma(int64(n)) + " " + english.PluralWord(n, "row", "")
}
