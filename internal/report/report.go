// Package report assembles the outcome of a resolution run into the
// response structure returned to callers: per-item resolved periods with
// their previous stored values, run counters, and any non-fatal warnings.
package report

import (
	"fmt"
	"sort"

	"github.com/gridstone/gridstone/internal/schedule"
)

// ResolvedPeriod is one row of the response: an item whose start period
// was calculated this run.
type ResolvedPeriod struct {
	ItemID int64 `json:"itemId"`
	// ItemName is the display name; "item <id>" when the item is missing
	// from the snapshot (should not happen for resolved rows).
	ItemName string `json:"itemName"`
	// CurrentStartPeriod is the stored start before this run.
	CurrentStartPeriod int `json:"currentStartPeriod"`
	// CalculatedStartPeriod is the engine's result.
	CalculatedStartPeriod int `json:"calculatedStartPeriod"`
}

// Summary is the full response of one resolution run.
type Summary struct {
	ItemsProcessed       int              `json:"itemsProcessed"`
	DependenciesResolved int              `json:"dependenciesResolved"`
	DryRun               bool             `json:"dryRun"`
	ResolvedPeriods      []ResolvedPeriod `json:"resolvedPeriods"`
	// Errors carries resolution warnings (cycles, dangling references,
	// unknown trigger events). Non-empty Errors never fail the response
	// by themselves; validate-only callers gate on it separately.
	Errors []string `json:"errors"`
}

// Build assembles a Summary from the graph snapshot and the engine's
// result. Rows are sorted by calculated start period ascending, ties
// broken by item id ascending.
func Build(g *schedule.Graph, res *schedule.Result, dryRun bool) *Summary {
	rows := make([]ResolvedPeriod, 0, len(res.StartPeriods))
	for id, calculated := range res.StartPeriods {
		row := ResolvedPeriod{
			ItemID:                id,
			ItemName:              fmt.Sprintf("item %d", id),
			CalculatedStartPeriod: calculated,
		}
		if item, ok := g.Items[id]; ok {
			row.ItemName = item.Name
			row.CurrentStartPeriod = item.ManualStartPeriod
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CalculatedStartPeriod != rows[j].CalculatedStartPeriod {
			return rows[i].CalculatedStartPeriod < rows[j].CalculatedStartPeriod
		}
		return rows[i].ItemID < rows[j].ItemID
	})

	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}

	return &Summary{
		ItemsProcessed:       len(g.Items),
		DependenciesResolved: len(res.StartPeriods),
		DryRun:               dryRun,
		ResolvedPeriods:      rows,
		Errors:               errs,
	}
}
