package devserver

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler reads one host metrics sample.
type Sampler func(ctx context.Context) (MetricsPayload, error)

// HostSampler reads CPU and memory utilisation from the host.
func HostSampler(ctx context.Context) (MetricsPayload, error) {
	var m MetricsPayload

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return m, err
	}
	if len(percents) > 0 {
		m.CPU = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return m, err
	}
	m.Mem = vm.UsedPercent
	return m, nil
}

// MetricsPublisher broadcasts a metrics sample on every tick.
type MetricsPublisher struct {
	b        *Broadcaster
	sample   Sampler
	interval time.Duration
	log      zerolog.Logger
}

func NewMetricsPublisher(b *Broadcaster, sample Sampler, interval time.Duration, log zerolog.Logger) *MetricsPublisher {
	if sample == nil {
		sample = HostSampler
	}
	return &MetricsPublisher{
		b:        b,
		sample:   sample,
		interval: interval,
		log:      log.With().Str("component", "metrics").Logger(),
	}
}

// Run publishes until ctx is cancelled. A non-positive interval disables it.
func (p *MetricsPublisher) Run(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.b.ClientCount() == 0 {
				continue
			}
			m, err := p.sample(ctx)
			if err != nil {
				p.log.Warn().Err(err).Msg("sample host metrics")
				continue
			}
			p.b.Broadcast(EventMetrics, m)
		}
	}
}
