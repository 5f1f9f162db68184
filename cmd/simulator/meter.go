package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
	_ "time/tzdata"

	"github.com/diondokter/p1-reader/internal/dsmr"
)

const meterHeader = `ISK5\2M550E-1012`

var meterZone = mustZone("Europe/Amsterdam")

func mustZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// meter is a synthetic three-phase DSMR 5 meter with solar panels on L1 and
// a gas meter on M-Bus channel 1.
type meter struct {
	rng *rand.Rand

	importLow, importHigh float64 // kWh
	exportLow, exportHigh float64
	gas                   float64 // m3
	gasTime               time.Time
	last                  time.Time
}

func newMeter(seed uint64, start time.Time) *meter {
	return &meter{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		importLow:  1234.567,
		importHigh: 2345.678,
		exportLow:  345.678,
		exportHigh: 456.789,
		gas:        1234.567,
		gasTime:    start.Truncate(5 * time.Minute),
		last:       start,
	}
}

// highTariff follows the Dutch schedule: weekdays 07:00 to 23:00.
func highTariff(t time.Time) bool {
	local := t.In(meterZone)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return local.Hour() >= 7 && local.Hour() < 23
}

// solar returns a clear-sky production estimate in kW.
func solar(t time.Time) float64 {
	h := float64(t.In(meterZone).Hour()) + float64(t.Minute())/60
	if h < 7 || h > 19 {
		return 0
	}
	return 3.5 * math.Sin((h-7)/12*math.Pi)
}

func timestamp(t time.Time) string {
	local := t.In(meterZone)
	flag := "W"
	if local.IsDST() {
		flag = "S"
	}
	return local.Format("060102150405") + flag
}

// telegram advances the meter to now and renders its state.
func (m *meter) telegram(now time.Time) []byte {
	hours := now.Sub(m.last).Hours()
	m.last = now

	var voltage, current, imp, exp [3]float64
	for i := range 3 {
		voltage[i] = 230 + m.rng.NormFloat64()*2
		load := 0.1 + m.rng.Float64()*0.5
		if i == 0 {
			load -= solar(now)
		}
		if load >= 0 {
			imp[i] = load
		} else {
			exp[i] = -load
		}
		current[i] = math.Round(math.Abs(load) * 1000 / voltage[i])
	}

	// The meter settles per phase, so an import on L2 and export on L1 both count.
	in := (imp[0] + imp[1] + imp[2]) * hours
	out := (exp[0] + exp[1] + exp[2]) * hours
	if highTariff(now) {
		m.importHigh += in
		m.exportHigh += out
	} else {
		m.importLow += in
		m.exportLow += out
	}

	if now.Sub(m.gasTime) >= 5*time.Minute {
		m.gasTime = now.Truncate(5 * time.Minute)
		m.gas += m.rng.Float64() * 0.05
	}

	tariff := "0001"
	if highTariff(now) {
		tariff = "0002"
	}
	kwh := func(v float64) string { return fmt.Sprintf("%010.3f*kWh", v) }
	kw := func(v float64) string { return fmt.Sprintf("%06.3f*kW", v) }

	objs := []dsmr.Object{
		{Ref: "1-3:0.2.8", Values: []string{"50"}},
		{Ref: "0-0:1.0.0", Values: []string{timestamp(now)}},
		{Ref: "1-0:1.8.1", Values: []string{kwh(m.importLow)}},
		{Ref: "1-0:1.8.2", Values: []string{kwh(m.importHigh)}},
		{Ref: "1-0:2.8.1", Values: []string{kwh(m.exportLow)}},
		{Ref: "1-0:2.8.2", Values: []string{kwh(m.exportHigh)}},
		{Ref: "0-0:96.14.0", Values: []string{tariff}},
		{Ref: "1-0:1.7.0", Values: []string{kw(imp[0] + imp[1] + imp[2])}},
		{Ref: "1-0:2.7.0", Values: []string{kw(exp[0] + exp[1] + exp[2])}},
	}
	phaseRefs := []struct {
		v, a, imp, exp string
	}{
		{"1-0:32.7.0", "1-0:31.7.0", "1-0:21.7.0", "1-0:22.7.0"},
		{"1-0:52.7.0", "1-0:51.7.0", "1-0:41.7.0", "1-0:42.7.0"},
		{"1-0:72.7.0", "1-0:71.7.0", "1-0:61.7.0", "1-0:62.7.0"},
	}
	for i, r := range phaseRefs {
		objs = append(objs,
			dsmr.Object{Ref: r.v, Values: []string{fmt.Sprintf("%05.1f*V", voltage[i])}},
			dsmr.Object{Ref: r.a, Values: []string{fmt.Sprintf("%03.0f*A", current[i])}},
			dsmr.Object{Ref: r.imp, Values: []string{kw(imp[i])}},
			dsmr.Object{Ref: r.exp, Values: []string{kw(exp[i])}},
		)
	}
	objs = append(objs, dsmr.Object{
		Ref:    "0-1:24.2.1",
		Values: []string{timestamp(m.gasTime), fmt.Sprintf("%09.3f*m3", m.gas)},
	})
	return dsmr.Encode(meterHeader, objs)
}
