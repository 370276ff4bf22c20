// Package monitoring samples process resource usage into the metrics
// registry.
package monitoring

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/PablitoCBR/commenter/internal/metrics"
)

// Sampler periodically reads this process's RSS and CPU usage and
// feeds the process gauges. Failures are logged and the next tick
// tries again; sampling never takes the service down.
type Sampler struct {
	interval time.Duration
	logger   zerolog.Logger
	registry *metrics.Registry
	proc     *process.Process

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSampler creates a sampler ticking at interval (zero means 15s).
func NewSampler(interval time.Duration, registry *metrics.Registry, logger zerolog.Logger) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// Fall back to system-wide memory numbers below.
		proc = nil
	}
	return &Sampler{
		interval: interval,
		logger:   logger.With().Str("component", "monitoring").Logger(),
		registry: registry,
		proc:     proc,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sampling loop until ctx ends or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sampler) sample() {
	if s.proc != nil {
		if info, err := s.proc.MemoryInfo(); err == nil {
			s.registry.ProcessRSSBytes.Set(float64(info.RSS))
		} else {
			s.logger.Debug().Err(err).Msg("memory sample failed")
		}
		if cpu, err := s.proc.CPUPercent(); err == nil {
			s.registry.ProcessCPUPercent.Set(cpu)
		} else {
			s.logger.Debug().Err(err).Msg("cpu sample failed")
		}
		return
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.registry.ProcessRSSBytes.Set(float64(vm.Used))
	} else {
		s.logger.Debug().Err(err).Msg("system memory sample failed")
	}
}
