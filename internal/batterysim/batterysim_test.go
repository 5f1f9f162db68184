package batterysim

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// point builds a sample whose net balance is imported-exported kWh.
func point(at time.Duration, imported, exported float32) domain.ElectricityDataPoint {
	return domain.ElectricityDataPoint{
		Time:                   t0.Add(at),
		KWhImportTotalTarifLow: imported,
		KWhExportTotalTarifLow: exported,
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestNormalizeTimeFormat(t *testing.T) {
	t.Parallel()
	in := []byte(`[{"time":"2024-03-01T12:00:00.5+00"},{"time":"2024-03-01T12:00:01+00:00"}]`)
	out, changed := NormalizeTimeFormat(in)
	if !changed {
		t.Fatal("short zone not detected")
	}
	if got, want := string(out), `[{"time":"2024-03-01T12:00:00.5+00:00"},{"time":"2024-03-01T12:00:01+00:00"}]`; got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if _, changed := NormalizeTimeFormat(out); changed {
		t.Fatal("normalized input reported as changed")
	}
}

func TestLoadFile_WritesBackNormalized(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "electricity.json")
	raw := `[{"time":"2024-03-01T12:00:00+00","kwh_import_total_tarif_low":1.5,"voltages":[230,231,229]}]`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	points, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(points) != 1 || !points[0].Time.Equal(t0) || points[0].KWhImportTotalTarifLow != 1.5 {
		t.Fatalf("points=%+v", points)
	}
	if got, want := points[0].Voltages, (domain.Phases{230, 231, 229}); got != want {
		t.Fatalf("voltages=%v want %v", got, want)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(onDisk), `+00:00"`) {
		t.Fatalf("file not rewritten: %s", onDisk)
	}
}

func TestSortAndGaps(t *testing.T) {
	t.Parallel()
	points := []domain.ElectricityDataPoint{
		point(2*time.Second, 0, 0),
		point(0, 0, 0),
		point(4*time.Second, 0, 0),
		point(30*time.Second, 0, 0),
		point(40*time.Second, 0, 0),
		point(41*time.Second, 0, 0),
	}
	if !SortByTime(points) {
		t.Fatal("unsorted input reported as sorted")
	}
	if SortByTime(points) {
		t.Fatal("sorted input reported as unsorted")
	}
	if !points[0].Time.Equal(t0) {
		t.Fatalf("first=%v", points[0].Time)
	}

	g := FindGaps(points)
	if g.Count != 2 || g.Largest != 26*time.Second {
		t.Fatalf("gaps=%+v want 2 with largest 26s", g)
	}
}

func TestSimulate_NetZeroAbsorbsExportThenImport(t *testing.T) {
	t.Parallel()
	// Export 0.05 kWh in the first minute, import it again in the second.
	points := []domain.ElectricityDataPoint{
		point(0, 0, 0),
		point(time.Minute, 0, 0.05),
		point(2*time.Minute, 0.05, 0.05),
	}

	base := Simulate(Baseline.Battery, NetZero, points)
	if !near(base.TotalImport, 0.05) || !near(base.TotalExport, 0.05) || base.Steps != 2 {
		t.Fatalf("baseline=%+v", base)
	}

	big := Simulate(Battery{Capacity: 1, MaxChargingRate: 5, MaxDischargingRate: 5, Efficiency: 0.95}, NetZero, points)
	if !near(big.TotalImport, 0) || !near(big.TotalExport, 0) {
		t.Fatalf("1 kWh battery=%+v want nothing imported or exported", big)
	}

	tiny := Simulate(Battery{Capacity: 0.01, MaxChargingRate: 5, MaxDischargingRate: 5, Efficiency: 1}, NetZero, points)
	if !near(tiny.TotalExport, 0.04) || !near(tiny.TotalImport, 0.04) {
		t.Fatalf("0.01 kWh battery=%+v want 0.04 each way", tiny)
	}
}

func TestSimulate_RateLimit(t *testing.T) {
	t.Parallel()
	// 1 kWh exported in one minute is 60 kW; a 6 kW battery takes 0.1 kWh of it.
	points := []domain.ElectricityDataPoint{
		point(0, 0, 0),
		point(time.Minute, 0, 1),
	}
	r := Simulate(Battery{Capacity: 10, MaxChargingRate: 6, MaxDischargingRate: 6, Efficiency: 1}, NetZero, points)
	if !near(r.TotalExport, 0.9) {
		t.Fatalf("export=%v want 0.9", r.TotalExport)
	}
}

func TestSimulate_StepsAtLeastOneMinute(t *testing.T) {
	t.Parallel()
	var points []domain.ElectricityDataPoint
	for i := 0; i <= 12; i++ {
		points = append(points, point(time.Duration(i)*10*time.Second, float32(i)*0.01, 0))
	}
	r := Simulate(Baseline.Battery, NetZero, points)
	if got, want := r.Steps, 2; got != want {
		t.Fatalf("steps=%d want %d", got, want)
	}
	if !near(r.TotalImport, 0.12) {
		t.Fatalf("import=%v want 0.12", r.TotalImport)
	}

	if r := Simulate(Baseline.Battery, NetZero, points[:1]); r.Steps != 0 {
		t.Fatalf("single point steps=%d", r.Steps)
	}
	if r := Simulate(Baseline.Battery, NetZero, nil); r != (Report{}) {
		t.Fatalf("empty=%+v", r)
	}
}

func TestScenarios(t *testing.T) {
	t.Parallel()
	sc := Scenarios()
	if got, want := len(sc), 15; got != want {
		t.Fatalf("scenarios=%d want %d", got, want)
	}
	if sc[0].Name != "0.1kWh" || sc[0].Battery.MaxChargingRate != 5 {
		t.Fatalf("first=%+v", sc[0])
	}
	if b := sc[6].Battery; b.Capacity != 10 || b.MaxChargingRate != 5 {
		t.Fatalf("10 kWh=%+v want 5 kW", b)
	}
	if b := sc[7].Battery; b.Capacity != 20 || b.MaxDischargingRate != 10 || b.Efficiency != 0.95 {
		t.Fatalf("20 kWh=%+v want 10 kW", b)
	}
}

func TestRunAndReport(t *testing.T) {
	t.Parallel()
	points := []domain.ElectricityDataPoint{
		point(0, 0, 0),
		point(time.Minute, 0, 0.05),
		point(2*time.Minute, 0.05, 0.05),
	}
	all := append([]Scenario{Baseline}, Scenarios()...)
	results, err := Run(context.Background(), NetZero, points, all)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != len(all) || results[0].Scenario.Name != "baseline" {
		t.Fatalf("results out of order: %+v", results[0])
	}

	c := Compare(results[4], results[0].Report)
	if c.Name != "1kWh" || !near(c.ImportDelta, -0.05) || !near(c.CostDelta, -0.05*ImportCost+0.05*0.01) {
		t.Fatalf("comparison=%+v", c)
	}

	var text bytes.Buffer
	if err := WriteComparison(&text, c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text.String(), "Import 0.00 (-0.05)") {
		t.Fatalf("text=%q", text.String())
	}

	var stats bytes.Buffer
	if err := WriteStats(&stats, []Comparison{c}); err != nil {
		t.Fatal(err)
	}
	var decoded []Comparison
	if err := json.Unmarshal(stats.Bytes(), &decoded); err != nil || len(decoded) != 1 {
		t.Fatalf("stats=%s err=%v", stats.String(), err)
	}
}

func TestCost(t *testing.T) {
	t.Parallel()
	r := Report{TotalImport: 100, TotalExport: 50}
	if got, want := r.Cost(), 24.5; !near(got, want) {
		t.Fatalf("cost=%v want %v", got, want)
	}
}
