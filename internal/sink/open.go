package sink

import (
	"context"
	"fmt"

	"github.com/diondokter/p1-reader/internal/config"
	"github.com/rs/zerolog/log"
)

// FromConfig opens every mirror that has an address configured. clientID
// names the MQTT session and should be unique per process.
func FromConfig(ctx context.Context, clientID string) (Multi, error) {
	var m Multi

	if broker := config.MQTTBroker(); broker != "" {
		client, err := DialMQTT(broker, clientID)
		if err != nil {
			return nil, err
		}
		m = append(m, NewMQTT(client, config.MQTTTopicPrefix()))
	}

	if url := config.InfluxURL(); url != "" {
		m = append(m, NewInflux(url, config.InfluxToken(), config.InfluxOrg(), config.InfluxBucket()))
	}

	if addr := config.ClickHouseAddr(); addr != "" {
		ch, err := NewClickHouse(ctx, addr, config.ClickHouseDatabase(), config.ClickHouseUsername(), config.ClickHousePassword())
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		m = append(m, ch)
	}

	for _, s := range m {
		log.Info().Str("sink", s.Name()).Msg("mirror enabled")
	}
	return m, nil
}
