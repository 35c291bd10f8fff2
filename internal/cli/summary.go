package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/malbeclabs/sparkify/pkg/duck"
	"github.com/malbeclabs/sparkify/pkg/etl"
	"github.com/olekukonko/tablewriter"
)

func renderSummary(w io.Writer, report *etl.Report) error {
	if _, err := fmt.Fprintf(w, "Stage: %s\nDuration: %s\nUnmatched songplays: %d\n", report.Stage, report.Duration.Round(time.Millisecond), report.UnmatchedPlays); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetHeader([]string{"Table", "Rows", "Partitioned By", "Duration", "Location"})

	for _, r := range report.Results {
		table.Append([]string{
			r.Table,
			fmt.Sprintf("%d", r.Rows),
			strings.Join(r.PartitionBy, ", "),
			r.Duration.Round(time.Millisecond).String(),
			duck.RedactedStorageURI(r.Location),
		})
	}
	table.Render()
	return nil
}
