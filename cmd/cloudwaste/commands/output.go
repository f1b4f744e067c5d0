package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99"))
	warnStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFAF00"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// renderJobSummary is the human line printed after a waited scan.
func renderJobSummary(j *store.ScanJob) string {
	s := j.Summary
	head := okStyle.Render(strings.ToUpper(string(j.Status)))
	if j.Status == store.JobFailed {
		head = errorStyle.Render("FAILED")
	} else if s.RegionsFailed > 0 || j.ErrorMessage != "" {
		head = warnStyle.Render("PARTIAL")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s scan %s of %s\n", head, j.ID, j.AccountID)
	fmt.Fprintf(&b, "  regions   %d ok, %d failed\n", s.RegionsSucceeded, s.RegionsFailed)
	fmt.Fprintf(&b, "  resources %d scanned, %d orphaned\n", s.ResourcesScanned, s.OrphansFound)
	fmt.Fprintf(&b, "  waste     $%.2f/month, $%.2f to date\n", s.EstimatedMonthlyWaste, s.EstimatedCumulativeWaste)
	if j.ErrorMessage != "" {
		b.WriteString(dimStyle.Render("  " + j.ErrorMessage))
		b.WriteString("\n")
	}
	return b.String()
}

// renderFindings renders findings most expensive first.
func renderFindings(findings []store.Finding) string {
	sorted := append([]store.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MonthlyCost != sorted[j].MonthlyCost {
			return sorted[i].MonthlyCost > sorted[j].MonthlyCost
		}
		return sorted[i].Key().String() < sorted[j].Key().String()
	})

	t := table.Table{}
	t.AppendHeader(table.Row{"Type", "Resource", "Region", "Confidence", "Status", "Scenario", "Monthly", "To Date"})
	var monthly, cumulative float64
	for _, f := range sorted {
		t.AppendRow(table.Row{
			f.ResourceType,
			f.ProviderResourceID,
			f.Region,
			f.Confidence,
			f.Status,
			f.Scenario,
			fmt.Sprintf("$%.2f", f.MonthlyCost),
			fmt.Sprintf("$%.2f", f.CumulativeCost),
		})
		monthly += f.MonthlyCost
		cumulative += f.CumulativeCost
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", fmt.Sprintf("$%.2f", monthly), fmt.Sprintf("$%.2f", cumulative)})
	t.SetStyle(table.StyleRounded)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 7, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 8, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	return t.Render()
}
