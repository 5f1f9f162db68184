package domain

import "time"

// Phases is a per-phase value vector, L1 to L3.
type Phases [3]float32

// ElectricityDataPoint is one smart-meter sample as stored in electricity_data_points.
// Energy counters are in kWh, powers in kW, voltages in V.
type ElectricityDataPoint struct {
	Time time.Time `json:"time"`

	KWhImportTotalTarifLow  float32 `json:"kwh_import_total_tarif_low"`
	KWhImportTotalTarifHigh float32 `json:"kwh_import_total_tarif_high"`
	KWhExportTotalTarifLow  float32 `json:"kwh_export_total_tarif_low"`
	KWhExportTotalTarifHigh float32 `json:"kwh_export_total_tarif_high"`

	Voltages           Phases `json:"voltages"`
	ActivePowersImport Phases `json:"active_powers_import"`
	ActivePowersExport Phases `json:"active_powers_export"`
}

// KWhBalance is the net energy counter, positive for import and negative for export.
func (d ElectricityDataPoint) KWhBalance() float32 {
	return d.KWhImportTotalTarifLow + d.KWhImportTotalTarifHigh -
		d.KWhExportTotalTarifHigh - d.KWhExportTotalTarifLow
}

// SlaveDataPoint is a reading from an auxiliary meter (gas, water, heat) wired to
// the main meter's M-Bus, identified by a small integer id.
type SlaveDataPoint struct {
	Time  time.Time `db:"time" json:"time"`
	ID    int16     `db:"id" json:"id"`
	Value float32   `db:"value" json:"value"`
}

// SolarDataPoint is one inverter sample as stored in solar_data_points.
type SolarDataPoint struct {
	Time                time.Time `db:"time" json:"time"`
	ActivePowerOutput   int32     `db:"active_power_output" json:"active_power_output"`
	ActivePowerInput    int32     `db:"active_power_input" json:"active_power_input"`
	TotalEnergy         float32   `db:"total_energy" json:"total_energy"`
	InverterTemperature int16     `db:"inverter_temperature" json:"inverter_temperature"`
}

// ElectricityReading is everything decoded from one P1 telegram. Currents are
// not persisted; they only feed the emulated grid meter.
type ElectricityReading struct {
	Data     ElectricityDataPoint
	Currents Phases
	Slaves   [MaxSlaves]*SlaveDataPoint
}

// MaxSlaves is the number of M-Bus channels a DSMR meter exposes.
const MaxSlaves = 4

// SolarReading is one decoded inverter sample including the grid-side L1 values.
type SolarReading struct {
	Data      SolarDataPoint
	L1Voltage float32
	L1Current float32
	L1Power   float32
}

// TimeRange is a half-open interval [Start, End). Nil bounds are open.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}
