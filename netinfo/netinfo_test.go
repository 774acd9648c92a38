package netinfo

import (
	"net"
	"testing"
	"time"

	"github.com/Keksclan/tiercache/retry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		rtt      time.Duration
		downlink float64
		want     EffectiveType
	}{
		{0, 0, Unknown},
		{2500 * time.Millisecond, 0, Slow2G},
		{1500 * time.Millisecond, 0, Type2G},
		{300 * time.Millisecond, 0, Type3G},
		{50 * time.Millisecond, 10, Type4G},
		{50 * time.Millisecond, 0.04, Slow2G},
		{0, 0.5, Type3G},
	}
	for _, tt := range tests {
		if got := Classify(tt.rtt, tt.downlink); got != tt.want {
			t.Errorf("Classify(%v, %v) = %q, want %q", tt.rtt, tt.downlink, got, tt.want)
		}
	}
}

func TestProbe_Decisions(t *testing.T) {
	tests := []struct {
		name       string
		info       Info
		slow, skip bool
		quality    ImageQuality
		multiplier int
	}{
		{"unknown", Info{}, false, false, QualityHigh, 1},
		{"4g", Info{EffectiveType: Type4G, Downlink: 20}, false, false, QualityHigh, 1},
		{"3g", Info{EffectiveType: Type3G}, true, false, QualityMedium, 3},
		{"2g", Info{EffectiveType: Type2G}, true, true, QualityLow, 3},
		{"slow-2g", Info{EffectiveType: Slow2G}, true, true, QualityLow, 3},
		{"save-data", Info{EffectiveType: Type4G, SaveData: true}, true, true, QualityLow, 3},
		{"thin-4g", Info{EffectiveType: Type4G, Downlink: 1.2}, true, false, QualityMedium, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProbe(Static(tt.info))
			if got := p.IsSlowConnection(); got != tt.slow {
				t.Errorf("IsSlowConnection = %v, want %v", got, tt.slow)
			}
			if got := p.ShouldSkipPrefetching(); got != tt.skip {
				t.Errorf("ShouldSkipPrefetching = %v, want %v", got, tt.skip)
			}
			if got := p.ImageQuality(); got != tt.quality {
				t.Errorf("ImageQuality = %v, want %v", got, tt.quality)
			}
			if got := p.CacheDurationMultiplier(); got != tt.multiplier {
				t.Errorf("CacheDurationMultiplier = %d, want %d", got, tt.multiplier)
			}
		})
	}
}

func TestProbe_StaticChangeIsNoop(t *testing.T) {
	p := NewProbe(Static(Info{EffectiveType: Type4G}))
	unregister := p.OnConnectionChange(func(Info) { t.Fatal("static source notified") })
	unregister()
	unregister()
}

func TestManual_Notifies(t *testing.T) {
	m := NewManual(Info{EffectiveType: Type4G})
	p := NewProbe(m)

	var seen []EffectiveType
	unregister := p.OnConnectionChange(func(i Info) { seen = append(seen, i.EffectiveType) })

	m.Set(Info{EffectiveType: Type4G})
	m.Set(Info{EffectiveType: Type2G})
	if !p.IsSlowConnection() {
		t.Fatal("probe did not follow the source")
	}
	unregister()
	m.Set(Info{EffectiveType: Type3G})

	if len(seen) != 1 || seen[0] != Type2G {
		t.Fatalf("notifications = %v, want [2g]", seen)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TIERCACHE_NET_RTT", "1500ms")
	t.Setenv("TIERCACHE_NET_SAVE_DATA", "false")

	src, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if got := src.Info().EffectiveType; got != Type2G {
		t.Fatalf("EffectiveType = %q, want 2g", got)
	}

	t.Setenv("TIERCACHE_NET_EFFECTIVE_TYPE", "5g")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected an error for an unknown effective type")
	}
}

func TestSampler_MeasuresLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	s := NewSampler(ln.Addr().String())
	var changed int
	unregister := NewProbe(s).OnConnectionChange(func(Info) { changed++ })
	defer unregister()

	info, err := s.Sample(t.Context())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if info.RTT <= 0 || info.EffectiveType != Type4G {
		t.Fatalf("info = %+v, want a fast loopback link", info)
	}
	if changed != 1 {
		t.Fatalf("changes = %d, want 1", changed)
	}
}

func TestSampler_FailureKeepsLastInfo(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s := NewSampler(addr, WithRetry(retry.Config{MaxAttempts: 1}), WithDialTimeout(time.Second))
	s.Set(Info{EffectiveType: Type3G})

	info, err := s.Sample(t.Context())
	if err == nil {
		t.Fatal("expected a dial error")
	}
	if info.EffectiveType != Type3G {
		t.Fatalf("info = %+v, want the previous observation", info)
	}
}
