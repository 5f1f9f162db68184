package sink

import (
	"context"
	"strconv"

	"github.com/diondokter/p1-reader/internal/domain"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Influx writes electricity, slave and solar measurements to an InfluxDB 2 bucket.
type Influx struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func NewInflux(url, token, org, bucket string) *Influx {
	client := influxdb2.NewClient(url, token)
	return &Influx{client: client, write: client.WriteAPIBlocking(org, bucket)}
}

func electricityPoint(d *domain.ElectricityDataPoint) *write.Point {
	p := influxdb2.NewPointWithMeasurement("electricity").
		AddField("kwh_import_low", d.KWhImportTotalTarifLow).
		AddField("kwh_import_high", d.KWhImportTotalTarifHigh).
		AddField("kwh_export_low", d.KWhExportTotalTarifLow).
		AddField("kwh_export_high", d.KWhExportTotalTarifHigh).
		SetTime(d.Time)
	for i := range d.Voltages {
		n := strconv.Itoa(i + 1)
		p.AddField("voltage_l"+n, d.Voltages[i]).
			AddField("import_kw_l"+n, d.ActivePowersImport[i]).
			AddField("export_kw_l"+n, d.ActivePowersExport[i])
	}
	return p
}

func slavePoint(d *domain.SlaveDataPoint) *write.Point {
	return influxdb2.NewPointWithMeasurement("slave").
		AddTag("id", strconv.Itoa(int(d.ID))).
		AddField("value", d.Value).
		SetTime(d.Time)
}

func solarPoint(d *domain.SolarDataPoint) *write.Point {
	return influxdb2.NewPointWithMeasurement("solar").
		AddField("active_power_output", d.ActivePowerOutput).
		AddField("active_power_input", d.ActivePowerInput).
		AddField("total_energy", d.TotalEnergy).
		AddField("inverter_temperature", d.InverterTemperature).
		SetTime(d.Time)
}

func (s *Influx) WriteElectricity(ctx context.Context, d *domain.ElectricityDataPoint) error {
	return s.write.WritePoint(ctx, electricityPoint(d))
}

func (s *Influx) WriteSlave(ctx context.Context, d *domain.SlaveDataPoint) error {
	return s.write.WritePoint(ctx, slavePoint(d))
}

func (s *Influx) WriteSolar(ctx context.Context, d *domain.SolarDataPoint) error {
	return s.write.WritePoint(ctx, solarPoint(d))
}

func (s *Influx) Name() string { return "influx" }

func (s *Influx) Close() error {
	s.client.Close()
	return nil
}
