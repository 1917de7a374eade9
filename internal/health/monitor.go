package health

import (
	"context"
	"fmt"
	"sync"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/companion/internal/config"
)

// Checker is satisfied by *Aggregator.
type Checker interface {
	CheckAll(ctx context.Context) Report
}

// Monitor runs CheckAll on a cron schedule and keeps the latest report.
type Monitor struct {
	checker  Checker
	schedule string
	log      zerolog.Logger

	mu      sync.Mutex
	cron    *rcron.Cron
	cancel  context.CancelFunc
	stopCh  chan struct{}
	last    Report
	hasLast bool
}

type MonitorOption func(*Monitor)

func WithMonitorLogger(l zerolog.Logger) MonitorOption {
	return func(m *Monitor) { m.log = l }
}

// NewMonitor accepts standard five-field specs and descriptors such as
// "@every 30s". An empty schedule uses the default.
func NewMonitor(checker Checker, schedule string, opts ...MonitorOption) *Monitor {
	if schedule == "" {
		schedule = config.DefaultHealthSchedule
	}
	m := &Monitor{checker: checker, schedule: schedule, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers the check and begins ticking. The monitor stops when ctx is
// done or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := rcron.New()
	if _, err := c.AddFunc(m.schedule, func() { m.run(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("health schedule %q: %w", m.schedule, err)
	}

	stopCh := make(chan struct{})
	m.cron = c
	m.cancel = cancel
	m.stopCh = stopCh
	c.Start()
	m.log.Info().Str("schedule", m.schedule).Msg("health monitor started")

	go func() {
		select {
		case <-ctx.Done():
			m.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c, cancel, stopCh := m.cron, m.cancel, m.stopCh
	m.cron, m.cancel, m.stopCh = nil, nil, nil
	m.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	close(stopCh)
	<-c.Stop().Done()
	m.log.Info().Msg("health monitor stopped")
}

// RunOnce performs a check immediately, outside the schedule.
func (m *Monitor) RunOnce(ctx context.Context) Report {
	return m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) Report {
	report := m.checker.CheckAll(ctx)

	m.mu.Lock()
	m.last = report
	m.hasLast = true
	m.mu.Unlock()

	ev := m.log.Info()
	if !report.Healthy() {
		ev = m.log.Warn()
	}
	ev.Str("inference", report.Inference.String()).
		Str("gateway", report.Gateway.String()).
		Msg("health check")
	return report
}

// Last returns the most recent report, if any check has run.
func (m *Monitor) Last() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast
}
