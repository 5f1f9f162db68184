// Command grid-meter-test serves a fixed EM24 register image so an energy
// manager can be tested against it without a P1 meter attached.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diondokter/p1-reader/internal/gridmeter"
	"github.com/diondokter/p1-reader/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	addr := pflag.String("addr", "0.0.0.0:502", "Modbus TCP listen address")
	serial := pflag.String("serial", "BY24600320011", "reported meter serial number")
	drift := pflag.Duration("drift", time.Second, "raise L1 power by 1 W this often so clients see changing values; 0 disables")
	level := pflag.String("log-level", "info", "log level")
	pflag.Parse()
	logging.Setup(*level)

	image := gridmeter.NewImage(gridmeter.InstantaneousData{
		VL1N: 2300,
		VL2N: 2301,
		VL3N: 2302,

		AL1: -1000,
		AL2: 0,
		AL3: 10000,

		WL1:  -10,
		WL2:  0,
		WL3:  100,
		WSum: 90,

		KWhPlusTotal: 5000,
		KWhNegTotal:  6000,
		KWhPlusL1:    100,
		KWhPlusL2:    110,
		KWhPlusL3:    -120,
	})
	handler, err := gridmeter.NewHandler(image, gridmeter.Setup3PN, *serial)
	if err != nil {
		log.Fatal().Err(err).Msg("grid meter handler")
	}
	srv, err := gridmeter.Start(*addr, handler)
	if err != nil {
		log.Fatal().Err(err).Msg("grid meter start")
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *drift <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(*drift)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("grid meter test stopped")
			return
		case <-ticker.C:
			image.Update(func(d *gridmeter.InstantaneousData) {
				d.WL1 += 10
				d.WSum = d.WL1 + d.WL2 + d.WL3
			})
		}
	}
}
