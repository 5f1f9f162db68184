package service

import (
	"context"
	"math"

	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/diondokter/p1-reader/internal/gridmeter"
	"github.com/diondokter/p1-reader/internal/metrics"
	"github.com/diondokter/p1-reader/internal/sink"
	"github.com/rs/zerolog/log"
)

type ElectricityStore interface {
	InsertElectricity(ctx context.Context, d *domain.ElectricityDataPoint) error
	InsertSlave(ctx context.Context, d *domain.SlaveDataPoint) error
}

type ElectricityService struct {
	store  ElectricityStore
	mirror sink.Sink
	image  *gridmeter.Image
}

func NewElectricityService(store ElectricityStore, mirror sink.Sink, image *gridmeter.Image) *ElectricityService {
	return &ElectricityService{store: store, mirror: mirror, image: image}
}

// Record publishes a reading to the grid meter image, stores it, and then
// mirrors it. Only storage errors are returned; mirror failures are logged.
func (s *ElectricityService) Record(ctx context.Context, r *domain.ElectricityReading) error {
	if s.image != nil {
		s.image.Update(func(g *gridmeter.InstantaneousData) { applyElectricity(g, r) })
	}

	if err := s.store.InsertElectricity(ctx, &r.Data); err != nil {
		metrics.DataPointWriteErrors.WithLabelValues("electricity_data_points").Inc()
		return err
	}
	metrics.DataPointsWritten.WithLabelValues("electricity_data_points").Inc()

	for _, slave := range r.Slaves {
		if slave == nil {
			continue
		}
		if err := s.store.InsertSlave(ctx, slave); err != nil {
			metrics.DataPointWriteErrors.WithLabelValues("slave_data_points").Inc()
			return err
		}
		metrics.DataPointsWritten.WithLabelValues("slave_data_points").Inc()
	}

	if s.mirror != nil {
		mirrorErr(s.mirror.WriteElectricity(ctx, &r.Data), "electricity")
		for _, slave := range r.Slaves {
			if slave != nil {
				mirrorErr(s.mirror.WriteSlave(ctx, slave), "slave")
			}
		}
	}
	return nil
}

// applyElectricity converts P1 units to EM24 register units.
func applyElectricity(g *gridmeter.InstantaneousData, r *domain.ElectricityReading) {
	d := &r.Data
	g.VL1N = scale(d.Voltages[0], 10)
	g.VL2N = scale(d.Voltages[1], 10)
	g.VL3N = scale(d.Voltages[2], 10)

	g.AL1 = scale(r.Currents[0], 1000)
	g.AL2 = scale(r.Currents[1], 1000)
	g.AL3 = scale(r.Currents[2], 1000)

	// kW to W is ×1000, and the register holds W×10.
	g.WL1 = scale(d.ActivePowersImport[0]-d.ActivePowersExport[0], 10_000)
	g.WL2 = scale(d.ActivePowersImport[1]-d.ActivePowersExport[1], 10_000)
	g.WL3 = scale(d.ActivePowersImport[2]-d.ActivePowersExport[2], 10_000)
	g.WSum = g.WL1 + g.WL2 + g.WL3

	g.KWhPlusTotal = scale(d.KWhImportTotalTarifHigh+d.KWhImportTotalTarifLow, 10)
	g.KWhNegTotal = scale(d.KWhExportTotalTarifHigh+d.KWhExportTotalTarifLow, 10)
}

type SolarStore interface {
	InsertSolar(ctx context.Context, d *domain.SolarDataPoint) error
}

type SolarService struct {
	store  SolarStore
	mirror sink.Sink
	image  *gridmeter.Image
}

func NewSolarService(store SolarStore, mirror sink.Sink, image *gridmeter.Image) *SolarService {
	return &SolarService{store: store, mirror: mirror, image: image}
}

// Record stores an inverter sample, mirrors it, and updates the single-phase
// grid meter image.
func (s *SolarService) Record(ctx context.Context, r *domain.SolarReading) error {
	if err := s.store.InsertSolar(ctx, &r.Data); err != nil {
		metrics.DataPointWriteErrors.WithLabelValues("solar_data_points").Inc()
		return err
	}
	metrics.DataPointsWritten.WithLabelValues("solar_data_points").Inc()

	if s.image != nil {
		s.image.Update(func(g *gridmeter.InstantaneousData) { applySolar(g, r) })
	}

	if s.mirror != nil {
		mirrorErr(s.mirror.WriteSolar(ctx, &r.Data), "solar")
	}
	return nil
}

func applySolar(g *gridmeter.InstantaneousData, r *domain.SolarReading) {
	g.VL1N = scale(r.L1Voltage, 10)
	g.AL1 = scale(r.L1Current, 1000)
	g.WL1 = scale(r.L1Power, 10)
	g.WSum = g.WL1 + g.WL2 + g.WL3

	g.KWhPlusL1 = scale(r.Data.TotalEnergy, 10)
	g.KWhPlusTotal = g.KWhPlusL1 + g.KWhPlusL2 + g.KWhPlusL3
}

func scale(v float32, factor float64) int32 {
	return int32(math.Round(float64(v) * factor))
}

func mirrorErr(err error, kind string) {
	if err == nil {
		return
	}
	for _, name := range sink.Failed(err) {
		metrics.MirrorErrors.WithLabelValues(name).Inc()
	}
	log.Warn().Err(err).Str("kind", kind).Msg("mirror write failed")
}
