// Package availability tracks whether the remote prediction service is worth
// calling right now.
package availability

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bastiangx/nextword/internal/logger"
	"github.com/bastiangx/nextword/pkg/remote"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// ErrDisabled is returned by Probe while online mode is off.
var ErrDisabled = errors.New("availability: online mode disabled")

// Prober performs one reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

// Options configures a Monitor.
type Options struct {
	Enabled      bool
	Interval     time.Duration
	ProbeTimeout time.Duration
	// Now replaces the wall clock in tests.
	Now func() time.Time
}

// State is a point-in-time view of the monitor.
type State struct {
	Enabled   bool      `msgpack:"enabled" json:"enabled"`
	Usable    bool      `msgpack:"usable" json:"usable"`
	LastProbe time.Time `msgpack:"last_probe" json:"last_probe"`
	LastError string    `msgpack:"last_error,omitempty" json:"last_error,omitempty"`
	Probes    int       `msgpack:"probes" json:"probes"`
	Failures  int       `msgpack:"failures" json:"failures"`
}

// Monitor holds the process-wide usable/unusable signal.
//
// The state starts unusable and only a successful probe makes it usable.
// Timeout and unreachable failures reported by callers flip it to unusable at
// once; a probe that was already running when such a failure arrived cannot
// flip it back.
type Monitor struct {
	prober       Prober
	probeTimeout time.Duration
	now          func() time.Time
	log          *log.Logger

	mu         sync.Mutex
	enabled    bool
	usable     bool
	interval   time.Duration
	limiter    *rate.Limiter
	generation uint64
	state      State
	closed     bool

	group  singleflight.Group
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a monitor. No probe runs until one is asked for.
func New(p Prober, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		prober:       p,
		probeTimeout: opts.ProbeTimeout,
		now:          opts.Now,
		log:          logger.New("availability"),
		enabled:      opts.Enabled,
		interval:     opts.Interval,
		limiter:      rate.NewLimiter(rate.Every(opts.Interval), 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// IsRemoteUsable returns the last known state without blocking. When a probe
// is due it is started in the background and its result is seen by later
// calls.
func (m *Monitor) IsRemoteUsable() bool {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return false
	}
	usable := m.usable
	due := !m.closed && m.limiter.AllowN(m.now(), 1)
	if due {
		m.wg.Add(1)
	}
	m.mu.Unlock()

	if due {
		go func() {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(m.ctx, m.probeTimeout)
			defer cancel()
			_ = m.probe(ctx)
		}()
	}
	return usable
}

// Probe checks reachability now and waits for the result. It counts against
// the probe rate so the background schedule does not repeat it immediately.
func (m *Monitor) Probe(ctx context.Context) error {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return ErrDisabled
	}
	m.limiter.AllowN(m.now(), 1)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	return m.probe(ctx)
}

func (m *Monitor) probe(ctx context.Context) error {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	// Callers share a probe only within one generation, so a probe started
	// before a reported failure never answers for one started after it.
	key := "probe-" + strconv.FormatUint(gen, 10)
	_, err, _ := m.group.Do(key, func() (any, error) {
		return nil, m.prober.Probe(ctx)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Probes++
	m.state.LastProbe = m.now()
	was := m.usable
	switch {
	case err != nil:
		m.usable = false
		m.state.LastError = err.Error()
	case gen == m.generation && m.enabled:
		m.usable = true
		m.state.LastError = ""
	}
	if was != m.usable {
		m.log.Debugf("Remote usable: %v", m.usable)
	}
	return err
}

// ReportFailure feeds back a failed remote call. Timeouts and unreachable
// service make the remote unusable until the next successful probe.
func (m *Monitor) ReportFailure(kind remote.Kind) {
	if kind != remote.KindTimeout && kind != remote.KindUnreachable {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.state.Failures++
	if m.usable {
		m.log.Debugf("Remote marked unusable after %s", kind)
	}
	m.usable = false
}

// UpdateConfig applies a new online switch and probe interval. Turning the
// monitor on or changing the interval allows a probe straight away.
func (m *Monitor) UpdateConfig(enabled bool, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval != m.interval || (enabled && !m.enabled) {
		m.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	m.interval = interval
	m.enabled = enabled
	if !enabled {
		m.usable = false
		m.generation++
	}
}

// Run probes on the configured interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		m.mu.Lock()
		interval := m.interval
		m.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		m.mu.Lock()
		due := m.enabled && m.limiter.AllowN(m.now(), 1)
		m.mu.Unlock()
		if due {
			pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
			if err := m.probe(pctx); err != nil {
				m.log.Debugf("Probe failed: %v", err)
			}
			cancel()
		}
	}
}

// State returns a snapshot for stats and health reporting.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Enabled = m.enabled
	s.Usable = m.enabled && m.usable
	return s
}

// Close stops background probes and waits for them to finish.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

// Wait blocks until background probes started so far have finished.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
