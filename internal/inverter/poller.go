package inverter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/diondokter/p1-reader/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/simonvetter/modbus"
)

// ErrStore marks a failure to persist a sample. The poller stops on it
// instead of reconnecting.
var ErrStore = errors.New("inverter: storing sample")

// Recorder persists a decoded sample.
type Recorder interface {
	Record(ctx context.Context, r *domain.SolarReading) error
}

// Alerter is told when the inverter has been unreachable for too long and
// when it comes back.
type Alerter interface {
	InverterOffline(ctx context.Context, since time.Time, cause error) error
	InverterOnline(ctx context.Context, downtime time.Duration) error
}

type Config struct {
	Addr         string // host:port
	UnitID       uint8
	Interval     time.Duration
	Timeout      time.Duration
	OfflineAfter time.Duration // zero disables alerts
}

// registerReader is the part of *modbus.ModbusClient the poller uses.
type registerReader interface {
	ReadRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error)
	Close() error
}

type Poller struct {
	cfg      Config
	recorder Recorder
	alerter  Alerter

	dial       func() (registerReader, error)
	newBackoff func() *backoff.ExponentialBackOff
	now        func() time.Time
}

// A connection that stayed up this long resets the reconnect backoff.
const stableConnection = 120 * time.Second

func NewPoller(cfg Config, rec Recorder, alerter Alerter) *Poller {
	p := &Poller{
		cfg:      cfg,
		recorder: rec,
		alerter:  alerter,
		now:      time.Now,
		newBackoff: func() *backoff.ExponentialBackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.Multiplier = 1.5
			b.MaxInterval = 300 * time.Second
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
	}
	p.dial = p.dialModbus
	return p
}

func (p *Poller) dialModbus() (registerReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     "tcp://" + p.cfg.Addr,
		Timeout: p.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Open(); err != nil {
		return nil, err
	}
	client.SetUnitId(p.cfg.UnitID)
	return client, nil
}

// Run polls until ctx is cancelled or a sample cannot be stored. Connection
// and protocol errors are retried forever with exponential backoff.
func (p *Poller) Run(ctx context.Context) error {
	bo := p.newBackoff()
	var (
		downSince time.Time
		alerted   bool
	)

	for {
		connected := p.now()
		err := p.session(ctx, func() {
			metrics.InverterOnline.Set(1)
			if alerted {
				p.notifyOnline(ctx, p.now().Sub(downSince))
				alerted = false
			}
			downSince = time.Time{}
		})
		metrics.InverterOnline.Set(0)

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrStore) {
			return err
		}
		log.Warn().Err(err).Str("addr", p.cfg.Addr).Msg("inverter connection ended")

		if downSince.IsZero() {
			downSince = p.now()
		}
		if !alerted && p.cfg.OfflineAfter > 0 && p.now().Sub(downSince) >= p.cfg.OfflineAfter {
			p.notifyOffline(ctx, downSince, err)
			alerted = true
		}

		if p.now().Sub(connected) > stableConnection {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		log.Debug().Dur("wait", wait).Msg("reconnecting to inverter")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session connects once and polls until the first error. onFirstSample runs
// after the first sample of the connection was stored.
func (p *Poller) session(ctx context.Context, onFirstSample func()) error {
	log.Info().Str("addr", p.cfg.Addr).Msg("connecting to inverter")
	client, err := p.dial()
	if err != nil {
		metrics.InverterConnects.WithLabelValues("failed").Inc()
		return fmt.Errorf("connect %s: %w", p.cfg.Addr, err)
	}
	metrics.InverterConnects.WithLabelValues("ok").Inc()
	defer func() { _ = client.Close() }()
	log.Info().Str("addr", p.cfg.Addr).Msg("connected to inverter")

	timer := time.NewTimer(0)
	defer timer.Stop()
	next := p.now()
	first := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		regs, err := client.ReadRegisters(RegisterBase, RegisterCount, modbus.HOLDING_REGISTER)
		if err != nil {
			return fmt.Errorf("read realtime registers: %w", err)
		}
		reading, err := Decode(regs, p.now())
		if err != nil {
			return err
		}
		if first {
			log.Info().Hex("registers", registerBytes(regs)).Msg("received first inverter data")
		}
		if err := p.recorder.Record(ctx, &reading); err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
		if first {
			onFirstSample()
			first = false
		}

		// A late tick fires immediately and the schedule restarts from it.
		now := p.now()
		if next.Before(now) {
			next = now
		}
		next = next.Add(p.cfg.Interval)
		timer.Reset(next.Sub(now))
	}
}

func (p *Poller) notifyOffline(ctx context.Context, since time.Time, cause error) {
	if p.alerter == nil {
		return
	}
	if err := p.alerter.InverterOffline(ctx, since, cause); err != nil {
		log.Error().Err(err).Msg("sending inverter offline alert")
	}
}

func (p *Poller) notifyOnline(ctx context.Context, downtime time.Duration) {
	if p.alerter == nil {
		return
	}
	if err := p.alerter.InverterOnline(ctx, downtime); err != nil {
		log.Error().Err(err).Msg("sending inverter recovered alert")
	}
}

func registerBytes(regs []uint16) []byte {
	b := make([]byte, 0, 2*len(regs))
	for _, r := range regs {
		b = append(b, byte(r>>8), byte(r))
	}
	return b
}
