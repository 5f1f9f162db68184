package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/diondokter/p1-reader/internal/dsmr"
	"github.com/diondokter/p1-reader/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// QueueSize is how many decoded readings may wait for the recorder.
const QueueSize = 64

// WriteTimeout bounds a single Record call.
const WriteTimeout = 5 * time.Second

// Recorder persists one reading. An error stops the pipeline.
type Recorder interface {
	Record(ctx context.Context, r *domain.ElectricityReading) error
}

type Pipeline struct {
	src      TelegramSource
	recorder Recorder
	now      func() time.Time
	// retryDelay throttles a source that keeps failing.
	retryDelay   time.Duration
	writeTimeout time.Duration
}

func NewPipeline(src TelegramSource, rec Recorder) *Pipeline {
	return &Pipeline{src: src, recorder: rec, now: time.Now, retryDelay: time.Second, writeTimeout: WriteTimeout}
}

// Run reads telegrams until ctx is cancelled, the source ends, or recording
// fails. Cancelling ctx closes the source; readings already queued are still
// recorded. Readings that arrive while the queue is full are dropped.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		if err := p.src.Close(); err != nil {
			log.Warn().Err(err).Msg("closing telegram source")
		}
	})
	defer stop()

	queue := make(chan *domain.ElectricityReading, QueueSize)

	g.Go(func() error {
		defer close(queue)
		return p.produce(ctx, queue)
	})
	g.Go(func() error {
		for r := range queue {
			if err := p.record(ctx, r); err != nil {
				return fmt.Errorf("record reading at %s: %w", r.Data.Time.Format(time.RFC3339), err)
			}
		}
		return nil
	})
	return g.Wait()
}

// record detaches the write from ctx so a shutdown does not abort it.
func (p *Pipeline) record(ctx context.Context, r *domain.ElectricityReading) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()
	return p.recorder.Record(wctx, r)
}

func (p *Pipeline) produce(ctx context.Context, queue chan<- *domain.ElectricityReading) error {
	for {
		raw, err := p.src.Next(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, ErrSourceClosed):
			return nil
		case errors.Is(err, io.EOF):
			log.Info().Msg("telegram source exhausted")
			return nil
		case errors.Is(err, dsmr.ErrTooLong):
			metrics.Telegrams.WithLabelValues("too_long").Inc()
			log.Warn().Err(err).Msg("discarding oversized telegram")
			continue
		default:
			metrics.Telegrams.WithLabelValues("read_error").Inc()
			log.Error().Err(err).Msg("reading telegram")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.retryDelay):
			}
			continue
		}

		r, ok := p.decode(raw)
		if !ok {
			continue
		}
		select {
		case queue <- r:
			metrics.Telegrams.WithLabelValues("ok").Inc()
		default:
			metrics.Telegrams.WithLabelValues("dropped").Inc()
			log.Warn().Time("time", r.Data.Time).Msg("recorder is behind, dropping reading")
		}
	}
}

func (p *Pipeline) decode(raw []byte) (*domain.ElectricityReading, bool) {
	t, err := dsmr.Parse(raw)
	if err != nil {
		result := "malformed"
		if errors.Is(err, dsmr.ErrChecksum) || errors.Is(err, dsmr.ErrMissingChecksum) {
			result = "checksum"
		}
		metrics.Telegrams.WithLabelValues(result).Inc()
		log.Warn().Err(err).Msg("rejecting telegram")
		return nil, false
	}
	r, err := ToReading(t, p.now())
	if err != nil {
		metrics.Telegrams.WithLabelValues("incomplete").Inc()
		log.Warn().Err(err).Str("meter", t.Header).Msg("rejecting telegram")
		return nil, false
	}
	return r, true
}
