package services

import (
	"math"
	"sync"
	"time"

	"lancast/internal/core/domain"

	"go.uber.org/zap"
)

// Network-report severity thresholds.
const (
	severeLossPct    = 8.0
	severeJitterMs   = 45.0
	degradedLossPct  = 4.0
	degradedJitterMs = 25.0

	// severe reports may never drop slower than this factor
	severeFactorCap = 0.78

	// reports this clean count toward bitrate recovery
	cleanLossPct  = 1.0
	cleanJitterMs = 10.0
)

// ControlScope is the (token, session, stream) triple every feedback
// message must match before it is trusted.
type ControlScope struct {
	Token     string
	SessionID domain.SessionID
	StreamID  string
}

// BitrateControllerConfig tunes the adaptation policy.
type BitrateControllerConfig struct {
	StartBitrateKbps int
	MinBitrateKbps   int
	MaxBitrateKbps   int
	Step             float64
	BitrateCooldown  time.Duration
	KeyframeCooldown time.Duration
	RecoverAfter     time.Duration
}

// ControlIntent is what the frame loop drains once per encode cycle.
type ControlIntent struct {
	BitrateKbps int // 0 means no change
	ForceIDR    bool
}

// BitrateController turns client feedback into encoder reconfiguration
// intents. Feedback arrives on its own goroutine; the frame loop calls
// TakeIntent once per cycle. All state is guarded by one mutex so the
// read-and-clear is atomic with respect to concurrent feedback.
type BitrateController struct {
	mu sync.Mutex

	scope ControlScope
	cfg   BitrateControllerConfig

	currentKbps     int
	pendingKbps     int
	pendingForceIDR bool

	lastKeyframeRequestAt time.Time
	lastBitrateChangeAt   time.Time
	cleanSince            time.Time

	scopeMismatches  uint64
	reportsSevere    uint64
	reportsDegraded  uint64
	reportsIgnored   uint64
	keyframeRequests uint64

	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewBitrateController wires the policy for one sending stream.
func NewBitrateController(scope ControlScope, cfg BitrateControllerConfig, logger *zap.SugaredLogger) *BitrateController {
	if cfg.MaxBitrateKbps <= 0 {
		cfg.MaxBitrateKbps = cfg.StartBitrateKbps
	}
	return &BitrateController{
		scope:       scope,
		cfg:         cfg,
		currentKbps: cfg.StartBitrateKbps,
		now:         time.Now,
		logger:      logger,
	}
}

// CurrentKbps returns the bitrate the encoder is currently running at.
func (c *BitrateController) CurrentKbps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentKbps
}

// ScopeMismatches returns how many messages failed the scope check.
func (c *BitrateController) ScopeMismatches() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scopeMismatches
}

// HandleFeedback consumes one client message. Messages outside the
// controller's scope are counted and dropped, never trusted.
func (c *BitrateController) HandleFeedback(msg *domain.FeedbackMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Token != c.scope.Token || msg.SessionID != c.scope.SessionID || msg.StreamID != c.scope.StreamID {
		c.scopeMismatches++
		return
	}

	switch msg.Type {
	case domain.MsgNetworkReport:
		c.handleReportLocked(msg)
	case domain.MsgKeyframeRequest, domain.MsgReconnect:
		c.requestKeyframeLocked(msg.Type)
	}
}

func (c *BitrateController) handleReportLocked(msg *domain.FeedbackMessage) {
	now := c.now()

	severe := msg.LossPct >= severeLossPct || msg.JitterMs >= severeJitterMs
	degraded := msg.LossPct >= degradedLossPct || msg.JitterMs >= degradedJitterMs

	switch {
	case severe, degraded:
		c.cleanSince = time.Time{}
		if !c.lastBitrateChangeAt.IsZero() && now.Sub(c.lastBitrateChangeAt) < c.cfg.BitrateCooldown {
			return
		}
		if severe {
			c.reportsSevere++
		} else {
			c.reportsDegraded++
		}

		factor := c.cfg.Step
		if severe {
			factor = math.Min(c.cfg.Step, severeFactorCap)
		}
		target := int(math.Floor(float64(c.currentKbps) * factor))
		if msg.RequestedBitrateKbps > 0 && msg.RequestedBitrateKbps < target {
			target = msg.RequestedBitrateKbps
		}
		if target < c.cfg.MinBitrateKbps {
			target = c.cfg.MinBitrateKbps
		}
		if target >= c.currentKbps {
			return
		}

		c.pendingKbps = target
		c.lastBitrateChangeAt = now
		c.logger.Infow("bitrate drop scheduled",
			"from_kbps", c.currentKbps,
			"to_kbps", target,
			"severe", severe,
			"loss_pct", msg.LossPct,
			"jitter_ms", msg.JitterMs,
		)

	default:
		c.reportsIgnored++
		if msg.LossPct < cleanLossPct && msg.JitterMs < cleanJitterMs {
			c.maybeRecoverLocked(now)
		} else {
			c.cleanSince = time.Time{}
		}
	}
}

// maybeRecoverLocked steps the bitrate back up after a sustained run of
// clean reports, under the same cooldown as drops.
func (c *BitrateController) maybeRecoverLocked(now time.Time) {
	if c.cfg.RecoverAfter <= 0 || c.currentKbps >= c.cfg.MaxBitrateKbps {
		return
	}
	if c.cleanSince.IsZero() {
		c.cleanSince = now
		return
	}
	if now.Sub(c.cleanSince) < c.cfg.RecoverAfter {
		return
	}
	if !c.lastBitrateChangeAt.IsZero() && now.Sub(c.lastBitrateChangeAt) < c.cfg.BitrateCooldown {
		return
	}

	target := int(math.Ceil(float64(c.currentKbps) / c.cfg.Step))
	if target > c.cfg.MaxBitrateKbps {
		target = c.cfg.MaxBitrateKbps
	}
	if target <= c.currentKbps {
		return
	}

	c.pendingKbps = target
	c.lastBitrateChangeAt = now
	c.cleanSince = time.Time{}
	c.logger.Infow("bitrate recovery scheduled",
		"from_kbps", c.currentKbps,
		"to_kbps", target,
	)
}

func (c *BitrateController) requestKeyframeLocked(reason string) {
	now := c.now()
	if !c.lastKeyframeRequestAt.IsZero() && now.Sub(c.lastKeyframeRequestAt) < c.cfg.KeyframeCooldown {
		return
	}
	c.lastKeyframeRequestAt = now
	c.pendingForceIDR = true
	c.keyframeRequests++
	c.logger.Debugw("keyframe requested", "reason", reason)
}

// TakeIntent atomically reads and clears the pending reconfiguration
// intent. Called exactly once per encode cycle by the frame loop.
func (c *BitrateController) TakeIntent() ControlIntent {
	c.mu.Lock()
	defer c.mu.Unlock()

	intent := ControlIntent{
		BitrateKbps: c.pendingKbps,
		ForceIDR:    c.pendingForceIDR,
	}
	c.pendingKbps = 0
	c.pendingForceIDR = false
	return intent
}

// CommitBitrate records that the encoder was rebuilt at the new rate.
func (c *BitrateController) CommitBitrate(kbps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentKbps = kbps
}
