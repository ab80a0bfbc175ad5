package routeexport

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// RFC 2439-style flap dampening, applied to mesh path churn
// -------------------------------------------------------------------------
//
// A Reticulum path table entry can flap just as aggressively as a BFD
// session: a marginal link repeatedly wins and loses the lowest-hop
// race. Without dampening, every flap would advertise and withdraw a
// BGP route, which is exactly the route-churn problem flap dampening
// was designed to prevent. The penalty/decay/suppress state machine
// here is the classic route flap dampening model (RFC 2439) keyed by
// destination hash instead of peer address.

// DampeningConfig configures the path-flap dampening parameters.
type DampeningConfig struct {
	// Enabled controls whether flap dampening is active. When false,
	// every path change is exported immediately.
	Enabled bool

	// SuppressThreshold is the penalty value above which exports are
	// suppressed. Typical value: 3 (suppress after 3 rapid flaps).
	SuppressThreshold float64

	// ReuseThreshold is the penalty value below which a suppressed
	// destination starts exporting again. Must be less than
	// SuppressThreshold.
	ReuseThreshold float64

	// MaxSuppressTime bounds how long a destination can stay
	// suppressed regardless of penalty level. Typical value: 60s.
	MaxSuppressTime time.Duration

	// HalfLife is the time for the penalty to decay by half.
	// Typical value: 15s.
	HalfLife time.Duration
}

// DefaultDampeningConfig returns dampening disabled by default — route
// export is an optional feature and should not silently hide paths
// until an operator opts in.
func DefaultDampeningConfig() DampeningConfig {
	return DampeningConfig{
		Enabled:           false,
		SuppressThreshold: 3,
		ReuseThreshold:    2,
		MaxSuppressTime:   60 * time.Second,
		HalfLife:          15 * time.Second,
	}
}

// Dampener tracks flap penalties per destination hash and decides
// whether path changes should be exported to BGP.
type Dampener struct {
	cfg    DampeningConfig
	dests  map[string]*destPenalty
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

type destPenalty struct {
	penalty         float64
	lastUpdate      time.Time
	suppressed      bool
	suppressedSince time.Time
}

// DampenerOption configures optional Dampener parameters.
type DampenerOption func(*Dampener)

// WithClock sets a custom time function, used in tests to control
// time progression without sleeping.
func WithClock(now func() time.Time) DampenerOption {
	return func(d *Dampener) { d.now = now }
}

// NewDampener creates a flap dampener with the given configuration.
func NewDampener(cfg DampeningConfig, logger *slog.Logger, opts ...DampenerOption) *Dampener {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dampener{
		cfg:    cfg,
		dests:  make(map[string]*destPenalty),
		logger: logger.With(slog.String("component", "routeexport.dampener")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ShouldSuppressWithdraw reports whether a path-lost event for key
// should be suppressed, recording the event by incrementing the
// penalty. Always false when dampening is disabled.
func (d *Dampener) ShouldSuppressWithdraw(key string) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	dp := d.getOrCreate(key, now)
	d.decay(dp, now)

	dp.penalty += 1.0
	dp.lastUpdate = now

	if dp.suppressed && now.Sub(dp.suppressedSince) >= d.cfg.MaxSuppressTime {
		d.unsuppress(dp, key)
		return false
	}

	if !dp.suppressed && dp.penalty >= d.cfg.SuppressThreshold {
		dp.suppressed = true
		dp.suppressedSince = now
		d.logger.Warn("destination suppressed due to flap dampening",
			slog.String("destination", key),
			slog.Float64("penalty", dp.penalty),
			slog.Float64("threshold", d.cfg.SuppressThreshold))
	}

	return dp.suppressed
}

// ShouldSuppressAdvertise reports whether a path-found event for key
// should be suppressed because the destination is still dampened.
// Always false when dampening is disabled.
func (d *Dampener) ShouldSuppressAdvertise(key string) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	dp, exists := d.dests[key]
	if !exists {
		return false
	}
	d.decay(dp, now)

	if dp.suppressed && now.Sub(dp.suppressedSince) >= d.cfg.MaxSuppressTime {
		d.unsuppress(dp, key)
		return false
	}
	if dp.suppressed && dp.penalty < d.cfg.ReuseThreshold {
		d.unsuppress(dp, key)
		return false
	}

	return dp.suppressed
}

// Reset removes the penalty tracking for a destination.
func (d *Dampener) Reset(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dests, key)
}

func (d *Dampener) getOrCreate(key string, now time.Time) *destPenalty {
	dp, exists := d.dests[key]
	if !exists {
		dp = &destPenalty{lastUpdate: now}
		d.dests[key] = dp
	}
	return dp
}

// decay applies exponential decay: penalty *= 2^(-elapsed/halfLife).
func (d *Dampener) decay(dp *destPenalty, now time.Time) {
	if d.cfg.HalfLife <= 0 || dp.penalty == 0 {
		return
	}
	elapsed := now.Sub(dp.lastUpdate)
	if elapsed <= 0 {
		return
	}
	halfLives := float64(elapsed) / float64(d.cfg.HalfLife)
	dp.penalty *= math.Pow(0.5, halfLives)
	dp.lastUpdate = now
	if dp.penalty < 0.001 {
		dp.penalty = 0
	}
}

func (d *Dampener) unsuppress(dp *destPenalty, key string) {
	dp.suppressed = false
	dp.suppressedSince = time.Time{}
	dp.penalty = 0
	d.logger.Info("destination unsuppressed, flap dampening cleared", slog.String("destination", key))
}
