package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Member is a target reachable over HTTP.
type Member struct {
	Name    string
	Address string
	Port    int
}

func (m Member) hostPort() string {
	return net.JoinHostPort(m.Address, strconv.Itoa(m.Port))
}

// Config is the probe policy shared by every member.
type Config struct {
	Path       string
	Interval   time.Duration
	Timeout    time.Duration
	Thresholds Thresholds
}

// Prober checks one member once.
type Prober interface {
	Probe(ctx context.Context, m Member, path string) error
}

// HTTPProber issues a GET and passes on 200 only.
type HTTPProber struct {
	Client *http.Client
}

// Probe implements Prober.
func (p HTTPProber) Probe(ctx context.Context, m Member, path string) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := "http://" + m.hostPort() + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// Metrics exported by the monitor.
type Metrics struct {
	routable *prometheus.GaugeVec
	checks   *prometheus.CounterVec
}

// NewMetrics registers the monitor metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		routable: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tierstack_target_routable",
			Help: "1 if the target is receiving traffic",
		}, []string{"target"}),
		checks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tierstack_health_checks_total",
			Help: "Total health checks by result",
		}, []string{"target", "result"}),
	}
}

// Monitor probes every member on its own goroutine.
type Monitor struct {
	cfg      Config
	prober   Prober
	logger   zerolog.Logger
	metrics  *Metrics
	members  []Member
	trackers map[string]*Tracker
}

// NewMonitor validates cfg and creates one tracker per member.
func NewMonitor(cfg Config, members []Member, prober Prober, metrics *Metrics, logger zerolog.Logger) (*Monitor, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0, got %s", cfg.Interval)
	}
	if cfg.Timeout <= 0 || cfg.Timeout >= cfg.Interval {
		return nil, fmt.Errorf("timeout %s must be positive and shorter than interval %s", cfg.Timeout, cfg.Interval)
	}
	if prober == nil {
		prober = HTTPProber{}
	}
	m := &Monitor{
		cfg:      cfg,
		prober:   prober,
		logger:   logger.With().Str("component", "health").Logger(),
		metrics:  metrics,
		members:  members,
		trackers: make(map[string]*Tracker, len(members)),
	}
	for _, member := range members {
		if _, dup := m.trackers[member.Name]; dup {
			return nil, fmt.Errorf("duplicate member %s", member.Name)
		}
		t, err := NewTracker(member.Name, cfg.Thresholds)
		if err != nil {
			return nil, err
		}
		m.trackers[member.Name] = t
		if metrics != nil {
			metrics.routable.WithLabelValues(member.Name).Set(0)
		}
	}
	return m, nil
}

// Tracker returns the state machine of a member.
func (m *Monitor) Tracker(name string) (*Tracker, bool) {
	t, ok := m.trackers[name]
	return t, ok
}

// Snapshot returns the state of every member.
func (m *Monitor) Snapshot() map[string]State {
	out := make(map[string]State, len(m.trackers))
	for name, t := range m.trackers {
		out[name] = t.State()
	}
	return out
}

// Routable returns the names of members currently receiving traffic, sorted.
func (m *Monitor) Routable() []string {
	var names []string
	for name, t := range m.trackers {
		if t.Routable() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, member := range m.members {
		g.Go(func() error {
			return m.watch(ctx, member)
		})
	}
	return g.Wait()
}

func (m *Monitor) watch(ctx context.Context, member Member) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := m.check(ctx, member); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) check(ctx context.Context, member Member) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err := m.prober.Probe(probeCtx, member, m.cfg.Path)
	cancel()
	if ctx.Err() != nil {
		return nil
	}

	result := "pass"
	if err != nil {
		result = "fail"
		m.logger.Debug().Str("target", member.Name).Err(err).Msg("health check failed")
	}
	if m.metrics != nil {
		m.metrics.checks.WithLabelValues(member.Name, result).Inc()
	}

	tr, terr := m.trackers[member.Name].Observe(ctx, err == nil)
	if terr != nil {
		return terr
	}
	if tr != nil {
		m.logger.Info().
			Str("target", tr.Target).
			Str("from", string(tr.From)).
			Str("to", string(tr.To)).
			Msg("target state changed")
		if m.metrics != nil {
			v := 0.0
			if tr.To == StateHealthy {
				v = 1
			}
			m.metrics.routable.WithLabelValues(tr.Target).Set(v)
		}
	}
	return nil
}
