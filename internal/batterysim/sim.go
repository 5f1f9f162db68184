package batterysim

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Battery state and limits. Energy in kWh, rates in kW, efficiency in 0..1
// applied on the way in.
type Battery struct {
	Stored             float64 `json:"stored_kwh"`
	Capacity           float64 `json:"capacity_kwh"`
	MaxChargingRate    float64 `json:"max_charging_kw"`
	MaxDischargingRate float64 `json:"max_discharging_kw"`
	Efficiency         float64 `json:"efficiency"`
}

type Strategy int

const (
	// NetZero charges instead of exporting and discharges instead of
	// importing, as far as the battery allows.
	NetZero Strategy = iota
)

func (s Strategy) String() string {
	switch s {
	case NetZero:
		return "net-zero"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ChargeGoal is the energy in kWh the strategy wants to move into the
// battery over the period; negative means discharge.
func (s Strategy) ChargeGoal(prev, curr *domain.ElectricityDataPoint) float64 {
	switch s {
	case NetZero:
		return -balanceChange(prev, curr)
	default:
		return 0
	}
}

func balanceChange(prev, curr *domain.ElectricityDataPoint) float64 {
	return float64(curr.KWhBalance()) - float64(prev.KWhBalance())
}

// Tariffs in euro per kWh.
const (
	ImportCost = 0.25
	ExportCost = -0.01
)

type Report struct {
	TotalImport float64 `json:"total_import_kwh"`
	TotalExport float64 `json:"total_export_kwh"`
	Steps       int     `json:"steps"`
}

func (r Report) Cost() float64 {
	return r.TotalImport*ImportCost + r.TotalExport*ExportCost
}

// Step is the minimum spacing between two simulated samples.
const Step = time.Minute

// Simulate replays sorted points. Each step advances to the first sample at
// least Step after the previous one.
func Simulate(b Battery, s Strategy, points []domain.ElectricityDataPoint) Report {
	var r Report
	if len(points) == 0 {
		return r
	}

	prev := 0
	for {
		target := points[prev].Time.Add(Step)
		rest := points[prev+1:]
		i := sort.Search(len(rest), func(k int) bool { return !rest[k].Time.Before(target) })
		if i == len(rest) {
			return r
		}
		curr := prev + 1 + i
		p, c := &points[prev], &points[curr]

		hours := c.Time.Sub(p.Time).Hours()
		charge := clamp(s.ChargeGoal(p, c), -b.MaxDischargingRate*hours, b.MaxChargingRate*hours)
		charge = clamp(charge, -b.Stored/b.Efficiency, (b.Capacity-b.Stored)/b.Efficiency)
		b.Stored += charge * b.Efficiency

		simmed := balanceChange(p, c) + charge
		if simmed > 0 {
			r.TotalImport += simmed
		} else {
			r.TotalExport -= simmed
		}
		r.Steps++
		prev = curr
	}
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

type Scenario struct {
	Name    string  `json:"name"`
	Battery Battery `json:"battery"`
}

// Baseline is a home without a battery.
var Baseline = Scenario{Name: "baseline", Battery: Battery{Efficiency: 1}}

// Scenarios lists the battery sizes compared against Baseline. Up to 10 kWh
// they charge at 5 kW, above that at 10 kW.
func Scenarios() []Scenario {
	sizes := []float64{0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000}
	out := make([]Scenario, 0, len(sizes))
	for _, kwh := range sizes {
		rate := 5.0
		if kwh > 10 {
			rate = 10
		}
		out = append(out, Scenario{
			Name: fmt.Sprintf("%gkWh", kwh),
			Battery: Battery{
				Capacity:           kwh,
				MaxChargingRate:    rate,
				MaxDischargingRate: rate,
				Efficiency:         0.95,
			},
		})
	}
	return out
}

type Result struct {
	Scenario Scenario `json:"scenario"`
	Report   Report   `json:"report"`
}

// Run simulates every scenario concurrently and returns the results in the
// order given.
func Run(ctx context.Context, s Strategy, points []domain.ElectricityDataPoint, scenarios []Scenario) ([]Result, error) {
	results := make([]Result, len(scenarios))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, sc := range scenarios {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = Result{Scenario: sc, Report: Simulate(sc.Battery, s, points)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
