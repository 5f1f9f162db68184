package batterysim

import (
	"encoding/json"
	"fmt"
	"io"
)

// Comparison is a scenario's report next to the baseline it is measured
// against. Deltas are scenario minus baseline.
type Comparison struct {
	Name        string  `json:"name"`
	CapacityKWh float64 `json:"capacity_kwh"`
	Import      float64 `json:"import_kwh"`
	Export      float64 `json:"export_kwh"`
	Cost        float64 `json:"cost_eur"`
	ImportDelta float64 `json:"import_delta_kwh"`
	ExportDelta float64 `json:"export_delta_kwh"`
	CostDelta   float64 `json:"cost_delta_eur"`
}

func Compare(r Result, baseline Report) Comparison {
	return Comparison{
		Name:        r.Scenario.Name,
		CapacityKWh: r.Scenario.Battery.Capacity,
		Import:      r.Report.TotalImport,
		Export:      r.Report.TotalExport,
		Cost:        r.Report.Cost(),
		ImportDelta: r.Report.TotalImport - baseline.TotalImport,
		ExportDelta: r.Report.TotalExport - baseline.TotalExport,
		CostDelta:   r.Report.Cost() - baseline.Cost(),
	}
}

func WriteBaseline(w io.Writer, r Report) error {
	_, err := fmt.Fprintf(w, "Baseline: import %.2f kWh, export %.2f kWh, cost €%.2f\n",
		r.TotalImport, r.TotalExport, r.Cost())
	return err
}

func WriteComparison(w io.Writer, c Comparison) error {
	_, err := fmt.Fprintf(w, "\n-------- %s --------\nImport %.2f (%.2f)\nExport %.2f (%.2f)\nCost €%.2f (€%.2f)\n",
		c.Name, c.Import, c.ImportDelta, c.Export, c.ExportDelta, c.Cost, c.CostDelta)
	return err
}

// WriteStats writes the comparisons as indented JSON.
func WriteStats(w io.Writer, cs []Comparison) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cs)
}
