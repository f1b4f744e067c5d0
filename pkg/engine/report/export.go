// Package report exports findings as CSV or JSON.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

// ExportItem matches the JSON/CSV structure.
type ExportItem struct {
	AccountID      string  `json:"account_id"`
	ResourceID     string  `json:"resource_id"`
	Type           string  `json:"type"`
	Region         string  `json:"region"`
	Name           string  `json:"name"`
	MonthlyCost    float64 `json:"monthly_cost"`
	CumulativeCost float64 `json:"cumulative_cost"`
	Confidence     string  `json:"confidence"`
	Scenario       string  `json:"scenario"`
	Reason         string  `json:"reason"`
	Status         string  `json:"status"`
	Action         string  `json:"action"`
}

// Action suggests what to do with a finding. Nothing is ever deleted by the
// engine itself.
func Action(f store.Finding) string {
	switch f.Status {
	case store.StatusIgnored:
		return "IGNORED"
	case store.StatusMarkedForDeletion:
		return "DELETE"
	}
	if f.Confidence == "high" || f.Confidence == "critical" {
		return "DELETE"
	}
	return "REVIEW"
}

// Items converts findings, most expensive first.
func Items(findings []store.Finding) []ExportItem {
	items := make([]ExportItem, 0, len(findings))
	for _, f := range findings {
		items = append(items, ExportItem{
			AccountID:      f.AccountID,
			ResourceID:     f.ProviderResourceID,
			Type:           string(f.ResourceType),
			Region:         f.Region,
			Name:           f.Name,
			MonthlyCost:    f.MonthlyCost,
			CumulativeCost: f.CumulativeCost,
			Confidence:     f.Confidence,
			Scenario:       f.Scenario,
			Reason:         f.Reason,
			Status:         string(f.Status),
			Action:         Action(f),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].MonthlyCost != items[j].MonthlyCost {
			return items[i].MonthlyCost > items[j].MonthlyCost
		}
		return items[i].ResourceID < items[j].ResourceID
	})
	return items
}

// WriteCSV writes findings with a header row.
func WriteCSV(w io.Writer, findings []store.Finding) error {
	cw := csv.NewWriter(w)

	header := []string{
		"AccountID",
		"ResourceID",
		"Type",
		"Region",
		"Name",
		"MonthlyCost",
		"CumulativeCost",
		"Confidence",
		"Scenario",
		"Reason",
		"Status",
		"Action",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, item := range Items(findings) {
		record := []string{
			item.AccountID,
			item.ResourceID,
			item.Type,
			item.Region,
			item.Name,
			fmt.Sprintf("%.2f", item.MonthlyCost),
			fmt.Sprintf("%.2f", item.CumulativeCost),
			item.Confidence,
			item.Scenario,
			item.Reason,
			item.Status,
			item.Action,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes findings as an indented array.
func WriteJSON(w io.Writer, findings []store.Finding) error {
	data, err := json.MarshalIndent(Items(findings), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
