// Package netinfo classifies the quality of the network link so caching can
// keep data longer and skip prefetching on slow connections.
package netinfo

import (
	"sync"
	"time"
)

// EffectiveType is a bandwidth class in the NetworkInformation vocabulary.
type EffectiveType string

const (
	Unknown EffectiveType = ""
	Slow2G  EffectiveType = "slow-2g"
	Type2G  EffectiveType = "2g"
	Type3G  EffectiveType = "3g"
	Type4G  EffectiveType = "4g"
)

// rank orders classes from slowest to fastest; Unknown ranks highest so an
// unmeasured link is never treated as slow.
func (t EffectiveType) rank() int {
	switch t {
	case Slow2G:
		return 0
	case Type2G:
		return 1
	case Type3G:
		return 2
	case Type4G:
		return 3
	default:
		return 4
	}
}

// SlowDownlinkMbps is the downlink below which a link counts as slow.
const SlowDownlinkMbps = 1.5

// Info is one observation of the link.
type Info struct {
	EffectiveType EffectiveType
	// Downlink is the estimated bandwidth in Mbps; zero when unknown.
	Downlink float64
	RTT      time.Duration
	SaveData bool
}

// Classify maps a measured round trip and downlink onto a bandwidth class
// using the thresholds browsers use for effectiveType. Zero values are
// treated as unmeasured.
func Classify(rtt time.Duration, downlinkMbps float64) EffectiveType {
	if rtt == 0 && downlinkMbps == 0 {
		return Unknown
	}
	has := downlinkMbps > 0
	switch {
	case rtt >= 2000*time.Millisecond || (has && downlinkMbps < 0.05):
		return Slow2G
	case rtt >= 1400*time.Millisecond || (has && downlinkMbps < 0.07):
		return Type2G
	case rtt >= 270*time.Millisecond || (has && downlinkMbps < 0.7):
		return Type3G
	default:
		return Type4G
	}
}

// Source reports the current link observation.
type Source interface {
	Info() Info
}

// Notifier is implemented by sources that can report changes.
type Notifier interface {
	Subscribe(fn func(Info)) (unregister func())
}

// ImageQuality is the media resolution suited to the link.
type ImageQuality int

const (
	QualityLow ImageQuality = iota
	QualityMedium
	QualityHigh
)

func (q ImageQuality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	default:
		return "high"
	}
}

// Probe derives caching decisions from a Source.
type Probe struct {
	src Source
}

// NewProbe returns a Probe over src. A nil src behaves like an unmeasured
// fast link.
func NewProbe(src Source) *Probe {
	if src == nil {
		src = Static(Info{})
	}
	return &Probe{src: src}
}

// Info returns the current observation.
func (p *Probe) Info() Info { return p.src.Info() }

// IsSlowConnection reports a link at or below 3g, a data-saver preference, or
// a measured downlink under 1.5 Mbps.
func (p *Probe) IsSlowConnection() bool {
	info := p.src.Info()
	return info.SaveData ||
		info.EffectiveType.rank() <= Type3G.rank() ||
		(info.Downlink > 0 && info.Downlink < SlowDownlinkMbps)
}

// ShouldSkipPrefetching is stricter than IsSlowConnection: only the two
// lowest classes or data saver.
func (p *Probe) ShouldSkipPrefetching() bool {
	info := p.src.Info()
	return info.SaveData || info.EffectiveType.rank() <= Type2G.rank()
}

// ImageQuality picks a media quality for the link.
func (p *Probe) ImageQuality() ImageQuality {
	switch {
	case p.ShouldSkipPrefetching():
		return QualityLow
	case p.IsSlowConnection():
		return QualityMedium
	default:
		return QualityHigh
	}
}

// CacheDurationMultiplier is 3 on slow links and 1 otherwise.
func (p *Probe) CacheDurationMultiplier() int {
	if p.IsSlowConnection() {
		return 3
	}
	return 1
}

// OnConnectionChange registers cb for link changes. When the source cannot
// notify, cb is never called and the returned function does nothing.
func (p *Probe) OnConnectionChange(cb func(Info)) (unregister func()) {
	if n, ok := p.src.(Notifier); ok && cb != nil {
		return n.Subscribe(cb)
	}
	return func() {}
}

// Static returns a Source that always reports info.
func Static(info Info) Source { return staticSource(info) }

type staticSource Info

func (s staticSource) Info() Info { return Info(s) }

// Manual is a settable Source that notifies subscribers on change.
type Manual struct {
	mu     sync.Mutex
	info   Info
	nextID int
	subs   map[int]func(Info)
}

// NewManual returns a Manual source starting at info.
func NewManual(info Info) *Manual {
	return &Manual{info: info, subs: make(map[int]func(Info))}
}

func (m *Manual) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Set records info and notifies subscribers when it differs from the
// previous observation.
func (m *Manual) Set(info Info) {
	m.mu.Lock()
	if m.info == info {
		m.mu.Unlock()
		return
	}
	m.info = info
	subs := make([]func(Info), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(info)
	}
}

func (m *Manual) Subscribe(fn func(Info)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
