package netinfo

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig is the link description read from the environment, for hosts
// that know their uplink better than a probe could measure it.
type EnvConfig struct {
	EffectiveType string        `env:"TIERCACHE_NET_EFFECTIVE_TYPE"`
	DownlinkMbps  float64       `env:"TIERCACHE_NET_DOWNLINK_MBPS"`
	RTT           time.Duration `env:"TIERCACHE_NET_RTT"`
	SaveData      bool          `env:"TIERCACHE_NET_SAVE_DATA"`
}

// FromEnv builds a static Source from TIERCACHE_NET_* variables. A missing
// effective type is derived from RTT and downlink.
func FromEnv() (Source, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	info := Info{
		EffectiveType: EffectiveType(cfg.EffectiveType),
		Downlink:      cfg.DownlinkMbps,
		RTT:           cfg.RTT,
		SaveData:      cfg.SaveData,
	}
	switch info.EffectiveType {
	case Unknown:
		info.EffectiveType = Classify(info.RTT, info.Downlink)
	case Slow2G, Type2G, Type3G, Type4G:
	default:
		return nil, fmt.Errorf("unknown effective type %q", cfg.EffectiveType)
	}
	return Static(info), nil
}
