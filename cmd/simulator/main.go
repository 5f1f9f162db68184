// Command simulator publishes synthetic P1 telegrams to MQTT so the reader
// can run with P1_SOURCE=mqtt and no meter attached.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diondokter/p1-reader/internal/config"
	"github.com/diondokter/p1-reader/internal/logging"
	"github.com/diondokter/p1-reader/internal/sink"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	count := pflag.Int("count", 0, "telegrams to send, 0 runs until interrupted")
	interval := pflag.Duration("interval", time.Second, "time between telegrams")
	seed := pflag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	pflag.Parse()

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(config.LogLevel())

	client, err := sink.DialMQTT(config.MQTTBroker(), "p1-simulator")
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connect")
	}
	defer client.Disconnect(250)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topic := config.P1MQTTTopic()
	m := newMeter(*seed, time.Now())
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for sent := 0; *count == 0 || sent < *count; sent++ {
		select {
		case <-ctx.Done():
			log.Info().Int("sent", sent).Msg("simulation interrupted")
			return
		case now := <-ticker.C:
			token := client.Publish(topic, 1, false, m.telegram(now))
			if !token.WaitTimeout(5 * time.Second) {
				log.Warn().Str("topic", topic).Msg("publish timed out")
				continue
			}
			if err := token.Error(); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("publish failed")
			}
		}
	}
	log.Info().Int("sent", *count).Msg("simulation done")
}
