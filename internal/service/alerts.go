package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier delivers operator alerts, normally *cloud.SNSClient.
type Notifier interface {
	SendInverterOffline(ctx context.Context, addr string, since time.Time, cause error) error
	SendInverterOnline(ctx context.Context, addr string, downtime time.Duration) error
}

// AlertService reports inverter availability. Without cloud services it only
// logs.
type AlertService struct {
	notifier Notifier
	addr     string
	useCloud bool
}

func NewAlertService(notifier Notifier, inverterAddr string, useCloud bool) *AlertService {
	return &AlertService{notifier: notifier, addr: inverterAddr, useCloud: useCloud}
}

func (s *AlertService) InverterOffline(ctx context.Context, since time.Time, cause error) error {
	log.Error().Err(cause).Str("inverter", s.addr).Time("since", since).Msg("inverter offline")
	if !s.useCloud || s.notifier == nil {
		return nil
	}
	return s.notifier.SendInverterOffline(ctx, s.addr, since, cause)
}

func (s *AlertService) InverterOnline(ctx context.Context, downtime time.Duration) error {
	log.Info().Str("inverter", s.addr).Dur("downtime", downtime).Msg("inverter back online")
	if !s.useCloud || s.notifier == nil {
		return nil
	}
	return s.notifier.SendInverterOnline(ctx, s.addr, downtime)
}
