// Package reader turns P1 telegrams into electricity readings and feeds them
// to a recorder through a bounded queue.
package reader

import (
	"errors"
	"fmt"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/diondokter/p1-reader/internal/dsmr"
	"github.com/rs/zerolog/log"
)

// OBIS references of the per-phase instantaneous values, L1 to L3.
var (
	voltageRefs = [3]string{"1-0:32.7.0", "1-0:52.7.0", "1-0:72.7.0"}
	currentRefs = [3]string{"1-0:31.7.0", "1-0:51.7.0", "1-0:71.7.0"}
	importRefs  = [3]string{"1-0:21.7.0", "1-0:41.7.0", "1-0:61.7.0"}
	exportRefs  = [3]string{"1-0:22.7.0", "1-0:42.7.0", "1-0:62.7.0"}
)

const (
	refImportLow  = "1-0:1.8.1"
	refImportHigh = "1-0:1.8.2"
	refExportLow  = "1-0:2.8.1"
	refExportHigh = "1-0:2.8.2"
)

// ToReading maps a parsed telegram onto a reading stamped with now. The four
// energy counters are required; a missing phase value stays zero so
// single-phase meters still produce rows.
func ToReading(t *dsmr.Telegram, now time.Time) (*domain.ElectricityReading, error) {
	r := &domain.ElectricityReading{}
	d := &r.Data
	d.Time = now.UTC()

	counters := []struct {
		ref string
		dst *float32
	}{
		{refImportLow, &d.KWhImportTotalTarifLow},
		{refImportHigh, &d.KWhImportTotalTarifHigh},
		{refExportLow, &d.KWhExportTotalTarifLow},
		{refExportHigh, &d.KWhExportTotalTarifHigh},
	}
	for _, c := range counters {
		m, err := t.Measurement(c.ref)
		if err != nil {
			return nil, err
		}
		*c.dst = float32(m.Value)
	}

	phases(t, voltageRefs, &d.Voltages)
	phases(t, currentRefs, &r.Currents)
	phases(t, importRefs, &d.ActivePowersImport)
	phases(t, exportRefs, &d.ActivePowersExport)

	for n := 1; n <= domain.MaxSlaves; n++ {
		slave, err := slaveReading(t, n)
		if err != nil {
			if !errors.Is(err, dsmr.ErrNotPresent) {
				log.Warn().Err(err).Int("channel", n).Msg("skipping slave meter reading")
			}
			continue
		}
		r.Slaves[n-1] = slave
	}
	return r, nil
}

func phases(t *dsmr.Telegram, refs [3]string, dst *domain.Phases) {
	for i, ref := range refs {
		m, err := t.Measurement(ref)
		if err != nil {
			if !errors.Is(err, dsmr.ErrNotPresent) {
				log.Warn().Err(err).Msg("ignoring malformed phase value")
			}
			continue
		}
		dst[i] = float32(m.Value)
	}
}

// slaveReading decodes 0-n:24.2.1(timestamp)(value) for M-Bus channel n. Ids
// are zero based.
func slaveReading(t *dsmr.Telegram, channel int) (*domain.SlaveDataPoint, error) {
	ref := fmt.Sprintf("0-%d:24.2.1", channel)
	vals, ok := t.Lookup(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", dsmr.ErrNotPresent, ref)
	}
	if len(vals) < 2 {
		return nil, fmt.Errorf("%w: %s has %d groups", dsmr.ErrMalformed, ref, len(vals))
	}
	ts, err := dsmr.ParseTimestamp(vals[0])
	if err != nil {
		return nil, err
	}
	m, err := dsmr.ParseMeasurement(vals[len(vals)-1])
	if err != nil {
		return nil, err
	}
	return &domain.SlaveDataPoint{Time: ts, ID: int16(channel - 1), Value: float32(m.Value)}, nil
}
