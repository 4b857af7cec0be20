package core

import (
	"time"

	"github.com/benbjohnson/clock"

	"cowatch/internal/config"
	"cowatch/internal/heartbeat"
	"cowatch/internal/reflection"
	"cowatch/internal/transport"
)

type Options struct {
	Relay     transport.Options
	Heartbeat heartbeat.Options
	Sampler   reflection.SamplerOptions
	DeadBand  time.Duration
	RateLimit float64
	RateBurst int
	Clock     clock.Clock

	// StartPrimary makes Run behave as if the tab arbiter granted primary status.
	StartPrimary bool
}

// OptionsFrom maps the loaded configuration onto the core's components.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		Relay: transport.Options{
			URL:              cfg.Relay.URL,
			RetryInterval:    cfg.Relay.RetryInterval,
			MaxAttempts:      cfg.Relay.MaxAttempts,
			HandshakeTimeout: cfg.Relay.HandshakeTimeout,
			WriteTimeout:     cfg.Relay.WriteTimeout,
		},
		Heartbeat: heartbeat.Options{
			Interval:               cfg.Heartbeat.Interval,
			ResponseTimeMultiplier: cfg.Heartbeat.ResponseTimeMultiplier,
			MinimumTimeout:         cfg.Heartbeat.MinimumTimeout,
			InitialTimeout:         cfg.Heartbeat.InitialTimeout,
			DroppedThreshold:       cfg.Heartbeat.DroppedThreshold,
			Window:                 cfg.Heartbeat.Window,
		},
		Sampler: reflection.SamplerOptions{
			SampleInterval:  cfg.Reflection.SampleInterval,
			DetailsInterval: cfg.Reflection.DetailsInterval,
		},
		DeadBand:  cfg.Reflection.DeadBand,
		RateLimit: cfg.Reflection.RateLimit,
		RateBurst: cfg.Reflection.RateBurst,
	}
}
